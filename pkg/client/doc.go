// Package client connects a hot module runtime to a dev server.
//
// Module bodies are Go functions compiled into the program; the server only
// ships records naming them by symbol. A Catalog resolves those symbols and
// turns wire records into the runtime's raw descriptor table:
//
//	cat := client.NewCatalog().
//		ESM("app.main", appMain).
//		CommonJS("vendor.lodash", lodash)
//
//	c := client.New("ws://localhost:3000/_hmr", rt, cat, client.Options{
//		Adapter: out,
//	})
//	err := c.Run(ctx)
//
// The client performs the handshake, applies Update frames through the
// runtime's coordinator in generation order, and reloads when the server
// or an update asks for it. It also implements adapter.Connection so that
// console output and runtime errors travel back over the same socket.
package client
