package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/session"
	"github.com/tcriess/lightspeed-meeting/types"
)

// A small command line participant: it joins a meeting room and prints the
// navigation of the leader, or shows the rooms of a server.

var (
	serverUrl string
	userId    string
	name      string
	idToken   string
	provider  string
	leader    bool
	logLevel  string
)

// logNavigator prints every location the session navigates to.
type logNavigator struct {
	logger hclog.Logger
}

func (n logNavigator) Navigate(loc session.Location) error {
	n.logger.Info("navigate", "route", loc.Route, "section", loc.Section, "scroll_position", loc.ScrollPosition)
	return nil
}

func meetingUrl() string {
	u, err := url.Parse(serverUrl)
	if err != nil {
		return serverUrl
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/meeting"
	if idToken != "" {
		vals := u.Query()
		vals.Set("id_token", idToken)
		vals.Set("provider", provider)
		u.RawQuery = vals.Encode()
	}
	return u.String()
}

func follow(roomId string) error {
	logger := globals.AppLogger.Named("follow")
	if userId == "" {
		// a fixed id is needed to resume after a reconnect
		userId = "guest-" + uuid.NewString()
	}
	onEvent := func(event, sender string, data json.RawMessage) {
		logger.Info("room event", "event", event, "sender", sender, "data", string(data))
	}
	client, err := session.NewClient(meetingUrl(), types.Identity{Id: userId, Name: name}, logNavigator{logger: logger},
		session.WithClientLogger(logger),
		session.WithSessionOptions(session.WithEventFunc(onEvent)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if err := client.Leave(); err != nil {
			logger.Debug("could not leave", "error", err)
		}
	}()

	err = client.Run(context.Background(), roomId, leader)
	if err != nil {
		return fmt.Errorf("session stopped: %w", err)
	}
	return nil
}

func showRooms(path string) error {
	u, err := url.Parse(serverUrl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	resp, err := http.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func main() {
	log.SetFlags(0)

	var cmdFollow = &cobra.Command{
		Use:   "follow [room id]",
		Short: "Join a room and follow the leader",
		Long:  `follow joins the room with the given id and prints the navigation of the leader until interrupted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return follow(args[0])
		},
	}
	cmdFollow.Flags().StringVar(&userId, "user-id", "", "participant id, must match the id token if one is given")
	cmdFollow.Flags().StringVar(&name, "name", "", "display name (guest servers only)")
	cmdFollow.Flags().StringVar(&idToken, "id-token", "", "OIDC id token")
	cmdFollow.Flags().StringVar(&provider, "provider", "", "name of the OIDC provider of the id token")
	cmdFollow.Flags().BoolVar(&leader, "leader", false, "request leadership when joining")

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms",
		Long:  `show prints the room statistics of the server.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRooms("/rooms")
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints the snapshot of the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRooms("/rooms/" + url.PathEscape(args[0]))
		},
	}

	var rootCmd = &cobra.Command{
		Use: "lightspeed-meeting-follow",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			globals.AppLogger.SetLevel(hclog.LevelFromString(logLevel))
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&serverUrl, "server", "s", "ws://localhost:8000", "server url")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(cmdFollow, cmdShow)
	cmdShow.AddCommand(cmdShowRoom)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
