package main

import (
	"log"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	p, err := initProxy()
	if err != nil {
		log.Fatalf("ERROR: Could not initialize map proxy: %v", err)
	}

	lambda.Start(newHandler(p))
}
