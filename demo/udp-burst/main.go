// Command udp-burst sends a few readable UDP datagrams so a running
// `framecap capture` has something to show, including the text block.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var target string
	var count int
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "udp-burst",
		Short: "Send readable UDP datagrams for framecap to capture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			conn, err := net.Dial("udp", target)
			if err != nil {
				return fmt.Errorf("dial %s: %w", target, err)
			}
			defer conn.Close()

			for i := 1; i <= count; i++ {
				msg := fmt.Sprintf("framecap demo datagram %d of %d: hello from udp-burst", i, count)
				if _, err := conn.Write([]byte(msg)); err != nil {
					return fmt.Errorf("send datagram %d: %w", i, err)
				}
				logger.Info("sent datagram", zap.Int("seq", i), zap.String("target", target))
				time.Sleep(interval)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "192.168.1.1:9999", "host:port to send datagrams to")
	cmd.Flags().IntVar(&count, "count", 5, "number of datagrams")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "delay between datagrams")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
