package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rtclient/internal/protocol"
	"rtclient/internal/session"
)

func queryCmd(flags *globalFlags) *cobra.Command {
	var index, collection, body string

	cmd := &cobra.Command{
		Use:   "query <controller> <action>",
		Short: "Send one request and print its result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := rawJSON("body", body)
			if err != nil {
				return err
			}

			c, err := openClient(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer c.close()

			type outcome struct {
				result json.RawMessage
				err    error
			}
			done := make(chan outcome, 1)
			queryArgs := session.QueryArgs{
				Controller: args[0],
				Action:     args[1],
				Index:      index,
				Collection: collection,
			}
			err = c.session.Query(queryArgs, payload, nil, func(result json.RawMessage, err error) {
				done <- outcome{result, err}
			})
			if err != nil {
				return err
			}

			select {
			case out := <-done:
				if out.err != nil {
					return out.err
				}
				return printJSON(out.result)
			case <-time.After(flags.timeout):
				return errors.New("timed out waiting for the response")
			}
		},
	}

	cmd.Flags().StringVarP(&index, "index", "i", "", "target index")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "target collection")
	cmd.Flags().StringVarP(&body, "body", "b", "", "request body as JSON")
	return cmd
}

func subscribeCmd(flags *globalFlags) *cobra.Command {
	var filters, scope, users string
	var self bool

	cmd := &cobra.Command{
		Use:   "subscribe <index> <collection>",
		Short: "Subscribe to a collection and print notifications until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := rawJSON("filters", filters)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := openClient(ctx, flags)
			if err != nil {
				return err
			}
			defer c.close()

			col, err := c.session.Collection(args[0], args[1])
			if err != nil {
				return err
			}

			subscribed := make(chan error, 1)
			opts := session.RoomOptions{
				Scope:           scope,
				Users:           users,
				SubscribeToSelf: session.Bool(self),
			}
			listener := func(n *protocol.Notification, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("notification error:"), err)
					return
				}
				if c.plugins != nil && !c.plugins.Notification(n) {
					return
				}
				printNotification(os.Stdout, os.Stderr, n)
			}
			room, err := col.Subscribe(payload, opts, listener, func(r *session.Room, err error) {
				select {
				case subscribed <- err:
				default:
				}
			})
			if err != nil {
				return err
			}

			select {
			case err := <-subscribed:
				if err != nil {
					return fmt.Errorf("failed to subscribe: %w", err)
				}
			case <-time.After(flags.timeout):
				return errors.New("timed out subscribing")
			case <-ctx.Done():
				return nil
			}
			fmt.Printf("%s subscribed to %s/%s (room %s)\n", color.GreenString("✓"), args[0], args[1], room.RoomID())

			<-ctx.Done()
			c.logger.Info().Msg("received shutdown signal")
			return unsubscribe(room, flags.timeout)
		},
	}

	cmd.Flags().StringVarP(&filters, "filters", "f", "", "subscription filters as JSON")
	cmd.Flags().StringVar(&scope, "scope", session.ScopeAll, "document scope: all, in, out or none")
	cmd.Flags().StringVar(&users, "users", session.UsersNone, "user events: all, in, out or none")
	cmd.Flags().BoolVar(&self, "self", true, "include notifications caused by this client")
	return cmd
}

func unsubscribe(room *session.Room, timeout time.Duration) error {
	done := make(chan error, 1)
	if err := room.Unsubscribe(func(err error) { done <- err }); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.New("timed out unsubscribing")
	}
}

func rawJSON(name, value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s is not valid JSON", name)
	}
	return json.RawMessage(value), nil
}

func printJSON(data json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printNotification(out, errOut io.Writer, n *protocol.Notification) {
	kind := color.CyanString(n.Type)
	action := color.YellowString(n.Action)
	if n.IsUserEvent() {
		var ev protocol.UserEvent
		if err := json.Unmarshal(n.Result, &ev); err != nil {
			fmt.Fprintf(errOut, "%s %s %s: malformed user event: %v\n", color.RedString("Error:"), kind, action, err)
			return
		}
		fmt.Fprintf(out, "%s %s user=%s count=%d\n", kind, action, n.User, ev.Count)
		return
	}

	line := fmt.Sprintf("%s %s scope=%s", kind, action, n.Scope)
	if doc, err := n.Document(); err == nil && doc != nil {
		line += fmt.Sprintf(" id=%s", color.GreenString(doc.ID))
		if len(doc.Source) > 0 {
			line += " " + string(doc.Source)
		}
	}
	fmt.Fprintln(out, line)
}
