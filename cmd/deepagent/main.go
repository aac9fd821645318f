// Command deepagent is the CLI entry point: a cobra root command wiring
// config, providers, storage, and the assembled kernel into a standalone
// chat REPL, plus database migration management for the Postgres store.
//
// Grounded in the teacher's cmd/root.go (persistent --config/-v flags,
// subcommand registration) and cmd/agent_chat_standalone.go (the
// bootstrap-then-REPL shape), generalized from GoClaw's gateway/channel
// bot into a single-agent runtime CLI.
package main

func main() {
	Execute()
}
