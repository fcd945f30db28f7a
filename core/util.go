package core

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

func DataRoot() string {
	if root := os.Getenv("DATA_ROOT"); root != "" {
		return root
	}
	return filepath.Join(".", "data")
}

func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// ContentKey derives a stable content identifier for a video file from its
// cleaned path plus size and mtime. Used as the result-cache key when the
// caller does not supply one.
func ContentKey(videoPath string) string {
	cleanPath := filepath.Clean(videoPath)
	h := md5.New()
	h.Write([]byte(cleanPath))
	if st, err := os.Stat(cleanPath); err == nil {
		h.Write([]byte(strconv.FormatInt(st.Size(), 10)))
		h.Write([]byte(strconv.FormatInt(st.ModTime().UnixNano(), 10)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("write json response: %v\n", err)
	}
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
