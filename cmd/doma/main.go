package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/doma-dev/doma/pkg/config"
)

var (
	Version    string
	Build      string
	rootParams = []config.Param{
		{Name: "json-log", Value: false, Usage: "output logs in json format"},
		{Name: "verbose", Value: false, Usage: "enable verbose logs"},
	}
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print doma version and build sha",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("version: %s build: %s\n", Version, Build)
	},
}

var rootCmd = &cobra.Command{
	Use:   "doma",
	Short: "doma - holds idle GPUs so an external reclaimer leaves them alone",
}

func init() {
	cobra.OnInitialize(initConfig)
	setPersistentParams(rootParams, rootCmd)
	setParams(config.LaunchParams(), launchCmd)
	setParams(serveParams, serveCmd)
	setParams(config.ControllerParams(), startCmd)
	setParams(config.ControllerParams(), restartCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(shutdownCmd)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DOMA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setupLogging()
}

func setParams(params []config.Param, command *cobra.Command) {
	for _, p := range params {
		registerParam(p, command.Flags())
	}
}

func setPersistentParams(params []config.Param, command *cobra.Command) {
	for _, p := range params {
		registerParam(p, command.PersistentFlags())
		if err := viper.BindPFlag(p.Name, command.PersistentFlags().Lookup(p.Name)); err != nil {
			panic(err)
		}
	}
}

func registerParam(p config.Param, flags *pflag.FlagSet) {
	switch v := p.Value.(type) {
	case int:
		flags.IntP(p.Name, p.Shorthand, v, p.Usage)
	case float64:
		flags.Float64P(p.Name, p.Shorthand, v, p.Usage)
	case string:
		flags.StringP(p.Name, p.Shorthand, v, p.Usage)
	case bool:
		flags.BoolP(p.Name, p.Shorthand, v, p.Usage)
	}
}

// commandViper binds one command's own flags into a fresh viper so
// flags with the same name on sibling commands cannot shadow each
// other.
func commandViper(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DOMA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	return v
}

func setupLogging() {
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
				fileName := fmt.Sprintf(" [%s]", path.Base(frame.Function)+":"+strconv.Itoa(frame.Line))
				return "", fileName
			},
		})
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if viper.GetBool("json-log") {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetOutput(os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
