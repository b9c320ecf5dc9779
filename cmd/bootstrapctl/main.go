package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/icn-bootstrap/internal/config"
	"github.com/signalsfoundry/icn-bootstrap/internal/control"
)

func main() {
	if c, err := newRootCmd(os.Stdout).ExecuteC(); err != nil {
		s, _ := status.FromError(err)
		c.PrintErrln("Error:", s.Message())
		// Non-gRPC errors are usage errors.
		if _, ok := status.FromError(err); !ok {
			c.PrintErrln(c.UsageString())
		}
		os.Exit(1)
	}
}

func defaultAddress() string {
	if addr := os.Getenv("BOOTSTRAP_ADDRESS"); addr != "" {
		return addr
	}
	return "127.0.0.1" + config.DefaultListenAddress
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bootstrapctl",
		Short:         "Control an ICN bootstrapping daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringP("address", "a", defaultAddress(), "Address of the bootstrapping daemon")
	root.PersistentFlags().Duration("timeout", 10*time.Second, "Per-command timeout")

	root.AddCommand(
		configureTMCmd(),
		activateCmd(),
		configureSwitchCmd(),
		nodeLinkCmd(),
		fidCmd(),
		statusCmd(),
		healthCmd(),
		linkCmd(),
	)
	return root
}

// withClient dials the daemon named by the --address flag and runs fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *control.Client) error) error {
	addr, err := cmd.Flags().GetString("address")
	if err != nil {
		return err
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	c, err := control.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func configureTMCmd() *cobra.Command {
	req := &control.ConfigureTmRequest{}
	cmd := &cobra.Command{
		Use:   "configure-tm",
		Short: "Point the daemon at the resource manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				resp, err := c.ConfigureTm(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tm configured at %s\n", resp.Endpoint)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.ServerAddress, "server", "", "TM host")
	flags.IntVar(&req.ServerPort, "port", 0, "TM port")
	flags.StringVar(&req.AttachmentSwitchID, "tm-node", "", "Topology node id of the TM")
	flags.StringVar(&req.AttachedSwitchID, "attached-switch", "", "Switch the TM is plugged into")
	flags.StringVar(&req.NodeID, "node-id", "", "Node id of the TM")
	flags.IntVar(&req.LIDPosition, "lid", 0, "LID bit position of the TM link")
	flags.IntVar(&req.InternalLIDPosition, "internal-lid", 0, "Internal LID bit position of the TM")
	for _, name := range []string{"server", "port", "tm-node", "attached-switch", "node-id"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func activateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <true|false>",
		Short: "Enable or disable link allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("activation must be true or false: %w", err)
			}
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				resp, err := c.ActivateApplication(ctx, &control.ActivateRequest{Active: on})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (attempted %d, allocated %d, failed %d)\n",
					resp.State, resp.Attempted, resp.Allocated, resp.Failed)
				return nil
			})
		},
	}
}

func configureSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure-switch <switch> <port> <lid position>",
		Short: "Install a forwarding rule for a manually chosen LID",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid lid position %q: %w", args[2], err)
			}
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				if _, err := c.ConfigureSwitch(ctx, &control.ConfigureSwitchRequest{SwitchID: args[0], PortID: args[1], LIDPosition: pos}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rule installed on %s port %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func nodeLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "node-link <source> <destination>",
		Short: "Show, allocating if needed, the node id and LID of a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				resp, err := c.NodeLinkInformation(ctx, &control.NodeLinkRequest{Source: args[0], Destination: args[1]})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 8, 8, 2, ' ', 0)
				defer w.Flush()
				fmt.Fprintf(w, "Node ID\t: %s\n", resp.NodeID)
				fmt.Fprintf(w, "LID\t: %s\n", resp.LID)
				fmt.Fprintf(w, "Allocated\t: %t\n", resp.Allocated)
				return nil
			})
		},
	}
}

func fidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fid <target>",
		Short: "Compute the FID from a node to the TM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				resp, err := c.CalculateTmfid(ctx, &control.CalculateTmfidRequest{Target: args[0]})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 8, 8, 2, ' ', 0)
				defer w.Flush()
				fmt.Fprintf(w, "FID\t: %s\n", resp.FID)
				fmt.Fprintf(w, "Positions\t: %v\n", resp.Positions)
				fmt.Fprintf(w, "Path found\t: %t\n", resp.PathFound)
				for _, h := range resp.Hops {
					fmt.Fprintf(w, "Hop\t: %s\n", h)
				}
				for _, s := range resp.Skipped {
					fmt.Fprintf(w, "Skipped\t: %s\n", s)
				}
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				st, err := c.Status(ctx, &control.StatusRequest{})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 8, 8, 2, ' ', 0)
				defer w.Flush()
				fmt.Fprintf(w, "State\t: %s\n", st.State)
				fmt.Fprintf(w, "Configured\t: %t\n", st.Configured)
				if st.Configured {
					fmt.Fprintf(w, "TM\t: %s (%s)\n", st.TMEndpoint, st.TMNode)
				}
				fmt.Fprintf(w, "Pending links\t: %d\n", st.Pending)
				fmt.Fprintf(w, "Registry\t: %d nodes, %d links, %d connectors\n", st.Nodes, st.Links, st.Connectors)
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the daemon health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *control.Client) error {
				st, err := c.Health(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), st.String())
				return nil
			})
		},
	}
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Report topology changes",
	}
	spec := func(args []string) control.LinkSpec {
		l := control.LinkSpec{ID: args[0], Source: args[1], Destination: args[2]}
		if len(args) > 3 {
			l.SourceConnector = args[3]
		}
		return l
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> <source> <destination> [source connector]",
			Short: "Report a new link",
			Args:  cobra.RangeArgs(3, 4),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(ctx context.Context, c *control.Client) error {
					_, err := c.UpdateTopology(ctx, &control.UpdateTopologyRequest{Added: []control.LinkSpec{spec(args)}})
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id> <source> <destination> [source connector]",
			Short: "Report a removed link",
			Args:  cobra.RangeArgs(3, 4),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(ctx context.Context, c *control.Client) error {
					_, err := c.UpdateTopology(ctx, &control.UpdateTopologyRequest{Removed: []control.LinkSpec{spec(args)}})
					return err
				})
			},
		},
	)
	return cmd
}
