// Command pwctl is the student-side client: it logs in through the gateway,
// keeps the credential fresh and calls the proxy endpoints.
package main

func main() {
	Execute()
}
