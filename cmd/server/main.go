package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lanrelay/lanrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting LAN Relay...")

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	server.StartHub()

	handler := server.SetupRoutes()
	httpServer := server.CreateServer(config.Port, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	printLANAddresses(config.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigCh:
		log.Printf("Received signal %s, shutting down", sig)
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := server.GetHub().Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}

// printLANAddresses reports the non-loopback IPv4 addresses of this host so
// other machines on the network know where to point their browsers.
func printLANAddresses(port string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Printf("Could not enumerate network interfaces: %v", err)
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			log.Printf("Access on LAN: http://%s%s", ip, portSuffix(port))
			log.Printf("Example room URL: http://%s%s/test?room=team1", ip, portSuffix(port))
		}
	}
}

func portSuffix(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}
