package config

import (
	"os"
	"strconv"
	"strings"
)

var (
	TLS_DOMAINS          = ""              // e.g. "example.com,example2.com"
	MYSQL_DSN            = ""              // MySQL will be used if this is set
	SQLITE_FILE          = "assetgate.db"  // SQLite will be used if MYSQL_DSN is not configured
	BIND_ADDRESS         = "0.0.0.0:8080"
	ADMIN_TOKEN          = "" // Bearer token required by config/bucket changes, empty disables the check
	TMP_DIR              = "/tmp"          // Local copies of S3 objects, files handed to the embedding script
	DEFAULT_BUCKET_DIR   = ""              // Used for creating initial bucket
	DEBUG_MODE           = true
	LOG_MODE             = "dev"           // "prod" switches zap to the JSON production encoder
	EMBEDDING_BACKEND    = "face"          // Comma separated: "face" (dlib descriptors), "script" (external model process)
	FACE_MODELS_DIR      = "./models-data" // dlib model files for the face backend
	FACE_DETECT_CNN      = false           // Use Convolutional Neural Network for face detection (as opposed to HOG)
	EMBEDDING_SCRIPT     = "./embedding/embed.py"
	SCRIPT_MODELS        = "" // Comma separated model names served by the script
	EMBEDDING_TIMEOUT_MS = 30000 // Embedding calls exceeding this are treated as encoding failures
	DEFAULT_GATE_CONFIG  = "default"
	GATE_CONFIG_FILE     = "" // Optional YAML file with gate config bundles, seeded on start
	PROCESSING_ENABLED   = true
	PROCESSING_WORKERS   = 2 // Assets validated in parallel by the background processor
)

func init() {
	readEnvString("TLS_DOMAINS", &TLS_DOMAINS)
	readEnvString("MYSQL_DSN", &MYSQL_DSN)
	readEnvString("SQLITE_FILE", &SQLITE_FILE)
	readEnvString("BIND_ADDRESS", &BIND_ADDRESS)
	readEnvString("ADMIN_TOKEN", &ADMIN_TOKEN)
	readEnvString("TMP_DIR", &TMP_DIR)
	readEnvString("DEFAULT_BUCKET_DIR", &DEFAULT_BUCKET_DIR)
	readEnvBool("DEBUG_MODE", &DEBUG_MODE)
	readEnvString("LOG_MODE", &LOG_MODE)
	readEnvString("EMBEDDING_BACKEND", &EMBEDDING_BACKEND)
	readEnvString("FACE_MODELS_DIR", &FACE_MODELS_DIR)
	readEnvBool("FACE_DETECT_CNN", &FACE_DETECT_CNN)
	readEnvString("EMBEDDING_SCRIPT", &EMBEDDING_SCRIPT)
	readEnvString("SCRIPT_MODELS", &SCRIPT_MODELS)
	readEnvInt("EMBEDDING_TIMEOUT_MS", &EMBEDDING_TIMEOUT_MS)
	readEnvString("DEFAULT_GATE_CONFIG", &DEFAULT_GATE_CONFIG)
	readEnvString("GATE_CONFIG_FILE", &GATE_CONFIG_FILE)
	readEnvBool("PROCESSING_ENABLED", &PROCESSING_ENABLED)
	readEnvInt("PROCESSING_WORKERS", &PROCESSING_WORKERS)
}

func readEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

func readEnvBool(name string, value *bool) {
	v := strings.ToLower(os.Getenv(name))
	if v == "true" || v == "1" || v == "yes" || v == "on" {
		*value = true
	} else if v == "false" || v == "0" || v == "no" || v == "off" {
		*value = false
	}
}

func readEnvInt(name string, value *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*value = f
}
