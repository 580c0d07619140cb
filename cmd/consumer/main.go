package main

import (
	"log"
	"os"

	"webhook-relay/internal/consumer"
)

func main() {
	l := consumer.NewListener(consumer.DefaultPort, os.Stdout)
	log.Fatal(l.ListenAndServe())
}
