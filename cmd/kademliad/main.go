// Command kademliad runs a single Kademlia DHT node listening on a UDP
// port given as the program's only positional argument.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/AdrS/kademlia-dht/kademlia"
)

const usage = "usage: kademliad <port>"

func main() {
	app := &cli.App{
		Name:      "kademliad",
		Usage:     "run a single Kademlia DHT node",
		ArgsUsage: "<port>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "k",
				Value: kademlia.DefaultBucketSize,
				Usage: "bucket capacity (K)",
			},
			&cli.DurationFlag{
				Name:  "probe-ttl",
				Value: kademlia.DefaultProbeTTL,
				Usage: "deadline for a probe of a least-recently-seen contact before eviction",
			},
			&cli.DurationFlag{
				Name:  "default-ttl",
				Value: kademlia.NeverExpire,
				Usage: "default TTL for STORE without an explicit expiry; negative means never expire",
			},
			&cli.IntFlag{
				Name:  "recv-buffer",
				Value: 1200,
				Usage: "UDP receive buffer size in bytes",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit(usage, 1)
	}
	port, err := parsePort(c.Args().Get(0))
	if err != nil {
		return cli.Exit(usage, 1)
	}

	log := logrus.New()
	if c.Bool("verbose") {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	idgen := kademlia.CryptoRandIDGenerator{}
	selfID := idgen.NewNodeID()
	clock := kademlia.MonotonicClock{}

	transport, err := kademlia.NewUDPTransport(port, c.Int("recv-buffer"))
	if err != nil {
		return fmt.Errorf("binding udp port %d: %w", port, err)
	}
	defer transport.Close()

	routing := kademlia.NewRoutingTable(selfID, c.Int("k"), c.Duration("probe-ttl"), clock, entry)
	defaultTTL := c.Duration("default-ttl")
	if defaultTTL < 0 {
		defaultTTL = kademlia.NeverExpire
	}
	store := kademlia.NewStore(defaultTTL, clock)

	server := kademlia.NewServer(selfID, transport, routing, store, idgen, kademlia.ServerConfig{}, entry)

	entry.WithFields(logrus.Fields{
		"id":   selfID.String(),
		"port": port,
	}).Info("node listening")

	return server.Serve()
}

// parsePort validates the port string: must be an integer in [1, 65535].
func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}
