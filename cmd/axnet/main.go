// Command axnet runs an echo server or a client over a configured backend.
package main

func main() {
	Execute()
}
