// Command tracker-sweep deletes expired sessions once and exits.
// It is meant for cron or a Kubernetes CronJob next to servers that run with the janitor disabled.
package main

import (
	"log"

	"tracker/cmd/internal/app"
)

func main() {
	if err := app.Sweep(); err != nil {
		log.Fatal(err)
	}
}
