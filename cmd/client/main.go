package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/devgrid/portal/pkg/client"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	server := flag.String("server", "localhost:8090", "Server address (host:port or ws:// URL)")
	userID := flag.String("user", "", "Connect as a user with this UserID")
	devSN := flag.String("devsn", "", "Connect as a device with this serial number")
	devName := flag.String("devname", "", "Device name (first registration)")
	devFW := flag.String("devfw", "", "Device firmware version (first registration)")
	join := flag.String("join", "", "GroupID to join after connecting")
	debug := flag.Bool("debug", false, "Log connection events")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Portal Client %s\n", Version)
		os.Exit(0)
	}

	identity := client.Identity{
		UserID:  *userID,
		DevSN:   *devSN,
		DevName: *devName,
		DevFW:   *devFW,
	}

	opts := client.Options{}
	if *debug {
		opts.Logger = log.New(os.Stderr, "client ", log.Ltime)
	}

	conn, err := client.NewConnection(*server, identity, opts)
	if err != nil {
		log.Fatalf("Invalid connection parameters: %v", err)
	}
	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s\n", *server)

	if *join != "" {
		if err := conn.JoinGroup(*join); err != nil {
			log.Fatalf("Failed to join group: %v", err)
		}
	}

	go printIncoming(conn)
	go readStdin(conn, *join)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nDisconnecting")
}

// printIncoming renders every server packet to stdout.
func printIncoming(conn *client.Connection) {
	for pkt := range conn.Incoming() {
		fmt.Printf("<- %s %s %s\n", pkt.Header, pkt.Argument, string(pkt.Value))
	}
}

// readStdin posts each input line as a group message. Lines starting with
// a slash are commands: /join GROUPID, /list, /history GROUPID.
func readStdin(conn *client.Connection, groupID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "/join "); ok {
			groupID = strings.TrimSpace(rest)
			if err := conn.JoinGroup(groupID); err != nil {
				fmt.Fprintf(os.Stderr, "join failed: %v\n", err)
			}
			continue
		}
		if line == "/list" {
			if err := conn.RequestGroupList(); err != nil {
				fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "/history "); ok {
			if err := conn.RequestMessages(strings.TrimSpace(rest), 0, 0); err != nil {
				fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
			}
			continue
		}

		if groupID == "" {
			fmt.Fprintln(os.Stderr, "no group joined, use /join GROUPID first")
			continue
		}
		if err := conn.PostMessage(groupID, line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}
