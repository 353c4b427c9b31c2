package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"medirag/app/server"
	"medirag/config"
)

var cfg config.Config

func init() {
	mustLoadConfig()
}

func main() {
	s := server.NewServer(cfg)

	go func() {
		if err := s.Run(); err != nil {
			log.Fatal("error to start server: ", err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	log.Println("Received shutdown signal, shutting down server...")
	s.Stop()
}

func mustLoadConfig() {
	if err := config.LoadEnvFile(); err != nil {
		log.Fatal("Error loading .env file: ", err)
	}
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: ", err)
	}
}
