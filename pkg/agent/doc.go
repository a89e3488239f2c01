// Package agent implements the delegate agents behind the orchestrator.
//
// Invariants:
// - The Reader only ever receives the read-only catalog.
// - The Integrator always reads before it writes.
// - Every model call goes through the fallback executor.
//
// Usage:
//
//	reader, _ := agent.NewReader(deps)
//	res, _ := reader.RunReadTask(ctx, agent.ReadTask{Description: "who leads project X?"})
//	_ = res
package agent
