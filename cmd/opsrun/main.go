// Command opsrun answers operations queries from the terminal using the same
// orchestration core as the service.
package main

func main() {
	Execute()
}
