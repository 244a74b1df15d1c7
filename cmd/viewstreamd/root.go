package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "viewstreamd",
	Short: "viewstreamd runs and administers a continuous query engine",
	Long:  `viewstreamd serves the query-lifecycle admin surface and doubles as its own client for creating queries, reading results, and streaming live deltas.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.viewstreamd.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:7070", "viewstreamd admin gRPC address")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".viewstreamd")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VIEWSTREAM")
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	Execute()
}
