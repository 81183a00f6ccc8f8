// Package mcp serves the coverbridge operations as MCP tools.
//
// Six tools are registered: analyze_code_context, get_coverage_gaps,
// analyze_test_structure, get_test_generation_context,
// validate_test_coverage and build_test_prompt. Each takes string arguments
// and answers with one text content item holding an indented JSON object.
// The object always has a "status" of "success" or "error"; error objects
// carry an "error" message and the MCP result has IsError set.
//
// # Transports
//
// Run serves stdio by default, which is what editor and assistant
// integrations spawn. The http transport serves MCP streamable HTTP on
// Config.Listen at Config.MCPPath (default /mcp):
//
//	srv, err := mcp.NewServer(mcp.NewServerRequest{
//		Config: mcp.Config{Transport: mcp.TransportHTTP, Listen: "127.0.0.1:19345"},
//		Tools:  service,
//		Logger: logger,
//	})
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx)
//
// Logs go to the supplied logger and never to stdout, which carries the
// stdio stream.
//
// # Failure handling
//
// A tool call never fails at the protocol level. Operation errors and
// panics are turned into error records, counted in the
// coverbridge.tool.calls metric and recorded on the call's span. A client
// may pass "correlation_id" in the request _meta to tag the call's log
// lines; otherwise one is generated.
//
// Dispatch runs a tool without an MCP session and BuildToolsListResponse
// renders the tools/list payload in-process.
package mcp
