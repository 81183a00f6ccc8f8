// Command getmcptoolslist prints the coverbridge tools/list payload.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pkt.systems/coverbridge/mcp"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := mcp.BuildToolsListResponseJSON(ctx, mcp.Config{LSPEnabled: true})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "getmcptoolslist: %v\n", err)
		os.Exit(1)
	}
	_, _ = os.Stdout.Write(out)
}
