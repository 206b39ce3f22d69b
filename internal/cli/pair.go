package cli

import (
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/crypto"
	"github.com/banterhq/banter/internal/windows"
	"github.com/banterhq/banter/pkg/logger"
	"github.com/banterhq/banter/pkg/types"
)

// PairCommand mints a window attach token and prints it as a QR code plus a
// plain URL, for pairing a UI window with the local daemon.
func PairCommand(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.BanterHome, 0700); err != nil {
		return fmt.Errorf("failed to create home dir: %w", err)
	}

	secret, err := crypto.GetOrCreateSecretKey(cfg.SecretKeyPath())
	if err != nil {
		return fmt.Errorf("failed to load secret key: %w", err)
	}

	jwtManager := windows.NewJWTManager(secret)
	windowID := "window-" + types.NewCUID()

	token, err := jwtManager.CreateToken(windowID, 0)
	if err != nil {
		return fmt.Errorf("failed to create attach token: %w", err)
	}

	attachURL := fmt.Sprintf("ws://%s/ws?token=%s", cfg.ListenAddr, token)
	printQRCode(attachURL)
	fmt.Println("Attach URL:")
	fmt.Println(attachURL)
	return nil
}

// printQRCode prints a QR code to the terminal.
func printQRCode(data string) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		logger.Warnf("Failed to generate QR code: %v", err)
		return
	}
	fmt.Println(qr.ToSmallString(false))
}
