// Command vncproxyctl is the admin CLI for the mapping registry: add,
// remove, remove-by-dest, and list operate directly on the same SQLite
// database vncproxyd reads, the same way vnc_proxy_ctl connected to the
// daemon's control socket.
package main

import "github.com/santazhang/vncproxy/cmd/vncproxyctl/cmd"

func main() {
	cmd.Execute()
}
