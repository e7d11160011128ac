package config

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server ServerConfig
	SFU    SFUConfig
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// SFUConfig holds media routing settings.
type SFUConfig struct {
	// NumWorkers is the number of media workers; rooms are spread across
	// them round-robin. Capped at 3.
	NumWorkers int
	// MaxClientsPerRoom bounds room size, counting the teacher.
	MaxClientsPerRoom int
	// MaxIncomingBitrate caps what a publisher may send, in bits/s.
	MaxIncomingBitrate int
	// AnnouncedIP is the address media clients use to reach this host.
	// Defaults to the auto-detected LAN address.
	AnnouncedIP string
	// RTPMinPort..RTPMaxPort is the UDP port range for media.
	RTPMinPort uint16
	RTPMaxPort uint16
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	numWorkers := getEnvInt("NUM_WORKERS", defaultNumWorkers())
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > 3 {
		numWorkers = 3
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "3016"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		SFU: SFUConfig{
			NumWorkers:         numWorkers,
			MaxClientsPerRoom:  getEnvInt("MAX_CLIENTS_PER_ROOM", 50),
			MaxIncomingBitrate: getEnvInt("MAX_INCOMING_BITRATE", 6_000_000),
			AnnouncedIP:        getEnv("ANNOUNCED_IP", LocalIP()),
			RTPMinPort:         uint16(getEnvInt("RTP_MIN_PORT", 40000)),
			RTPMaxPort:         uint16(getEnvInt("RTP_MAX_PORT", 45000)),
		},
	}
	return cfg, nil
}

func defaultNumWorkers() int {
	n := runtime.NumCPU()
	if n > 3 {
		n = 3
	}
	return n
}

// LocalIP returns the LAN address of this host, or 127.0.0.1 if it cannot
// be determined. No packets are sent; the dial only selects a route.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}
