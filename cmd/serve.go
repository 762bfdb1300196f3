package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgelink/rtnet/counter"
	"github.com/edgelink/rtnet/counter/period"
	"github.com/edgelink/rtnet/reactor"
	"github.com/edgelink/rtnet/tcp"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a single-client TCP port",
	Long: `Serve a single-client TCP port. Inbound payloads are logged; with
--echo they are also written back to the client. A new client always
replaces the current one, For example:
  rtnet serve --port=9000 --buffer-size=64 --echo --keepalive-count=3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reactor.Start()
		defer reactor.Stop()

		rx := period.NewPeriodCounter(time.Second)
		tx := period.NewPeriodCounter(time.Second)
		srv, err := tcp.NewServer(
			viper.GetInt("port"),
			viper.GetInt("buffer-size"),
			tcp.WithLogger(slog.Default()),
			tcp.WithKeepAlivePeriod(viper.GetDuration("keepalive-period")),
			tcp.WithKeepAliveCount(viper.GetInt("keepalive-count")),
			tcp.WithReceiveCounter(rx),
			tcp.WithSendCounter(tx),
		)
		if err != nil {
			return err
		}
		defer srv.Close()

		// Echoes run on their own goroutine: writes block, and blocking
		// inside a receive callback would stall the reactor worker.
		echo := viper.GetBool("echo")
		out := make(chan []byte, 16)
		go func() {
			for p := range out {
				if n := srv.Write(p); n < 0 {
					slog.Warn("echo write failed, client gone")
				}
			}
		}()

		srv.SetReceiveCallback(func(data []byte, n int) {
			slog.Debug("received", "bytes", n)
			if echo {
				p := make([]byte, n)
				copy(p, data)
				select {
				case out <- p:
				default:
					slog.Warn("echo queue full, dropping payload", "bytes", n)
				}
			}
		})

		srv.Listen()
		slog.Info("serving", "addr", srv.Addr())

		stats := time.NewTicker(statsPeriod)
		defer stats.Stop()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		for {
			select {
			case <-stats.C:
				logRates(srv, rx, tx)
			case s := <-sig:
				slog.Info("shutting down", "signal", s)
				close(out)
				return nil
			}
		}
	},
}

const statsPeriod = 10 * time.Second

func logRates(srv *tcp.Server, rx, tx counter.Counter) {
	slog.Info("transport stats",
		"connected", srv.IsConnected(),
		"rx_bytes", rx.Value(),
		"rx_rate", rx.RatePerSec(),
		"tx_bytes", tx.Value(),
		"tx_rate", tx.RatePerSec())
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.Int("port", 9000, "port to listen on")
	flags.Int("buffer-size", tcp.DefaultReceiveBufferSize, "receive buffer size in bytes")
	flags.Duration("keepalive-period", 0, "TCP keep-alive probe period (0 for OS default)")
	flags.Int("keepalive-count", 0, "TCP keep-alive probe count (0 for OS default)")
	flags.Bool("echo", false, "write received payloads back to the client")
	viper.BindPFlags(flags)
}
