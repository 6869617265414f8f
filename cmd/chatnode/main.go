// Command chatnode runs a single fully decentralized, end-to-end encrypted
// group chat node: no server, no accounts, just a libp2p overlay and a
// password shared out of band.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatnode/internal/cli"
	"chatnode/internal/config"
	"chatnode/internal/identity"
	"chatnode/internal/netagent"
	"chatnode/internal/session"
	"chatnode/internal/uiproto"
)

var (
	configPath string
	logDir     string
)

// shutdownGrace upper-bounds cooperative shutdown: past this, the process
// exits regardless of what the session and network agents are doing.
const shutdownGrace = 3 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatnode",
		Short: "Decentralized end-to-end encrypted group chat node",
		Long:  "A peer-to-peer, password-authenticated, end-to-end encrypted group chat node built on libp2p. No server, no accounts.",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "Config file path")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Room transcript directory (default: from config, or ~/.chat_logs)")

	rootCmd.AddCommand(identityCmd(), runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Identity management commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the node's Peer ID and discriminator",
		RunE:  identityShow,
	})
	return cmd
}

func identityShow(cmd *cobra.Command, args []string) error {
	cfg, id, err := loadOrCreateIdentity()
	if err != nil {
		return err
	}
	fmt.Println("📍 Peer ID:", id.PeerID.String())
	fmt.Println("🏷  Display name:", id.DisplayName())
	fmt.Println("📁 Config:", configPath)
	fmt.Println("📂 Log dir:", cfg.LogDir)
	return nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the interactive chat node",
		RunE:  runInteractive,
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, id, err := loadOrCreateIdentity()
	if err != nil {
		return err
	}
	if id.Nickname == "" {
		id.Nickname = promptNickname()
		cfg.Nickname = id.Nickname
		if err := config.Save(configPath, cfg); err != nil {
			return fmt.Errorf("save nickname: %w", err)
		}
	}
	effectiveLogDir := cfg.LogDir
	if logDir != "" {
		effectiveLogDir = logDir
	}
	if err := config.EnsureLogDir(effectiveLogDir); err != nil {
		return err
	}

	net, err := netagent.New(id.PrivKey)
	if err != nil {
		return fmt.Errorf("start network agent: %w", err)
	}

	fmt.Println("🌐 chatnode started")
	fmt.Println("📍 Peer ID:", id.PeerID.String())
	fmt.Println("🏷  You are:", id.DisplayName())

	sess := session.New(id, net, effectiveLogDir)

	go net.Run(ctx)
	go sess.Run(ctx)

	ui := cli.New(os.Stdin, os.Stdout, sess.Commands(), sess.Events())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n👋 shutting down...")
		// Route through the same cooperative path /quit uses: the session
		// agent unsubscribes, closes the log, and tells the network agent
		// to shut down before its Run loop returns.
		sess.Commands() <- uiproto.Shutdown{}
		time.AfterFunc(shutdownGrace, func() {
			cancel()
			os.Exit(1)
		})
	}()

	ui.Run(ctx)
	return nil
}

func loadOrCreateIdentity() (config.Config, *identity.Identity, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.PrivateKey == "" {
		id, err := identity.Generate()
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("generate identity: %w", err)
		}
		keyB64, err := id.PrivateKeyBase64()
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("serialize identity: %w", err)
		}
		cfg.PrivateKey = keyB64
		if err := config.Save(configPath, cfg); err != nil {
			return config.Config{}, nil, fmt.Errorf("save config: %w", err)
		}
		id.Nickname = cfg.Nickname
		return cfg, id, nil
	}

	id, err := identity.FromPrivateKeyBase64(cfg.PrivateKey)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load identity: %w", err)
	}
	id.Nickname = cfg.Nickname
	return cfg, id, nil
}

func promptNickname() string {
	fmt.Print("Choose a nickname: ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	nick := strings.TrimSpace(line)
	if nick == "" {
		nick = "anon"
	}
	return nick
}
