package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/divvyqueue/gateway/internal/config"
)

// envcheck validates the deployment environment and prints a categorized
// report: exit 0 when validation passes, 1 on errors, 130 when interrupted.
func main() {
	godotenv.Load()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT)
	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	}()

	_, result := config.Load()
	result.Print(os.Stdout)

	fmt.Printf("\nOverall status: %s\n", result.OverallStatus())
	if result.HasErrors() {
		fmt.Println("Environment validation FAILED - fix the errors above before deploying")
		os.Exit(1)
	}
	fmt.Println("Environment validation passed")
}
