package utils

import (
	"os"
	"path/filepath"

	"github.com/conduitchat/conduit/config"
)

// GetQRCodePath returns where the login QR image for a channel is written.
func GetQRCodePath(channelID string) string {
	path := config.Global.Paths.QRCode
	_ = os.MkdirAll(path, 0755)
	return filepath.Join(path, "scan-"+channelID+".png")
}

// GetChannelStoragePath returns the storage path for a specific channel.
func GetChannelStoragePath(channelID, subfolder string) string {
	path := filepath.Join(config.Global.Paths.Storages, "channels", channelID, subfolder)
	_ = os.MkdirAll(path, 0755)
	return path
}
