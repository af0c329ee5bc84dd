// Command agentctl is a development and integration-testing harness for
// the agent core: it drives a real Coordinator instance from the command
// line the way a host application would, one ingress call per invocation.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
