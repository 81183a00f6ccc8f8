// Package coverbridge exposes the Go APIs behind an MCP server that lets AI
// assistants analyse source files, measure test coverage and gather the
// context needed to write new tests. The server speaks MCP over stdio by
// default and can also serve the streamable HTTP transport.
//
// # Running a server
//
//	cfg := coverbridge.Config{
//	    MCPTransport: "stdio",
//	    LSPEnabled:   true,
//	}
//	srv, err := coverbridge.NewServer(cfg, coverbridge.WithLogger(logger))
//	if err != nil { log.Fatal(err) }
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatalf("coverbridge: %v", err)
//	}
//
// # Tools
//
// Six tools are registered: analyze_code_context, get_coverage_gaps,
// analyze_test_structure, get_test_generation_context,
// validate_test_coverage and build_test_prompt. Every tool returns a single
// text block holding an indented JSON object with a "status" field. Failures
// are reported as {"status": "error", "error": "..."} with the MCP error flag
// set, so a broken tool call never ends the session.
//
// Coverage is collected by running the language's test command in the
// project root and parsing the report it writes (coverage.py XML, Cobertura,
// LCOV, JaCoCo or Go cover profiles). Runner commands and report locations
// can be overridden per language through Config.Runners.
//
// # Embedding
//
// NewService builds the same operations without a transport:
//
//	svc, err := coverbridge.NewService(coverbridge.Config{})
//	if err != nil { return err }
//	defer svc.Close(ctx)
//	gaps, err := svc.GetCoverageGaps(ctx, "pkg/calc.py", "tests/test_calc.py", "")
//
// # Observability
//
// Logging uses pslog. Setting OTLPEndpoint exports traces for every tool
// call, MetricsListen serves Prometheus metrics on /metrics and PprofListen
// serves net/http/pprof.
package coverbridge
