package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/emvscope/internal/server"
	"github.com/sw33tLie/emvscope/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve archived sessions over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		listenAddr, _ := cmd.Flags().GetString("listen")
		srv := server.New(db, viper.GetString("server.username"), viper.GetString("server.password"))
		if withMetrics, _ := cmd.Flags().GetBool("metrics"); withMetrics {
			srv.Metrics = metrics.New()
		}
		return srv.Start(listenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
	serveCmd.Flags().String("username", "", "Basic auth username (default: config server.username)")
	serveCmd.Flags().String("password", "", "Basic auth password (default: config server.password)")
	viper.BindPFlag("server.username", serveCmd.Flags().Lookup("username"))
	viper.BindPFlag("server.password", serveCmd.Flags().Lookup("password"))
}
