package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/santazhang/vncproxy/internal/registry"
)

var (
	forwardKey string
	destAddr   string
	destPasswd string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a forward_key -> destination mapping",
	Long: `Add registers a new client-facing password (forward_key) and the
upstream VNC server it should forward to, mirroring vnc_proxy_ctl's "add"
action (where -p is the new, client-facing password and -op is the
destination's own VNC password, if any).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if forwardKey == "" {
			return fmt.Errorf("--forward-key is required")
		}
		if destAddr == "" {
			return fmt.Errorf("--dest is required")
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var passwd []byte
		if destPasswd != "" {
			passwd = []byte(destPasswd)
		}

		res, err := store.Insert(ctx, registry.Mapping{
			ForwardKey: []byte(forwardKey),
			DestAddr:   destAddr,
			DestPasswd: passwd,
		})
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		switch res {
		case registry.Ok:
			fmt.Printf("added mapping: forward_key=%q dest=%s\n", forwardKey, destAddr)
		case registry.InvalidName:
			return fmt.Errorf("forward_key must be 1-8 bytes")
		case registry.DuplicateKey:
			return fmt.Errorf("forward_key collides (after 8-byte normalization) with an existing mapping")
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a mapping by its forward_key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if forwardKey == "" {
			return fmt.Errorf("--forward-key is required")
		}
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Remove(ctx, []byte(forwardKey))
		if err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		fmt.Printf("removed %d mapping(s) with forward_key=%q\n", n, forwardKey)
		return nil
	},
}

var removeByDestCmd = &cobra.Command{
	Use:   "remove-by-dest",
	Short: "Remove every mapping pointing at a destination",
	Long: `remove-by-dest accepts "host" or "host:port" and removes every
mapping whose dest_addr matches, the Go equivalent of vnc_proxy_ctl's
del-by-dest action (a bare host with no port removes every mapping to that
host, regardless of port).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if destAddr == "" {
			return fmt.Errorf("--dest is required")
		}
		host, port, err := splitHostOptionalPort(destAddr)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.RemoveByDest(ctx, host, port)
		if err != nil {
			return fmt.Errorf("remove-by-dest failed: %w", err)
		}
		fmt.Printf("removed %d mapping(s) destined for %s\n", n, destAddr)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every mapping in the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		mappings, err := store.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		if len(mappings) == 0 {
			fmt.Println("(no mappings)")
			return nil
		}
		for _, m := range mappings {
			hasPasswd := "no"
			if len(m.DestPasswd) > 0 {
				hasPasswd = "yes"
			}
			fmt.Printf("forward_key=%-10q dest=%-22s dest_passwd=%s\n", string(m.ForwardKey), m.DestAddr, hasPasswd)
		}
		return nil
	},
}

func splitHostOptionalPort(addr string) (host string, port int, err error) {
	if !strings.Contains(addr, ":") {
		return addr, 0, nil
	}
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid destination %q: %w", addr, err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid destination port in %q: %w", addr, err)
	}
	return h, p, nil
}

func init() {
	for _, c := range []*cobra.Command{addCmd, removeCmd} {
		c.Flags().StringVarP(&forwardKey, "forward-key", "k", "", "client-facing VNC password that selects this mapping")
	}
	for _, c := range []*cobra.Command{addCmd, removeByDestCmd} {
		c.Flags().StringVarP(&destAddr, "dest", "d", "", "destination VNC server, host:port (remove-by-dest also accepts bare host)")
	}
	addCmd.Flags().StringVarP(&destPasswd, "dest-passwd", "o", "", "VNC password the destination server itself requires, if any")
}
