// idpctl is the operator CLI for a deployed IDP stack: document and
// system error analysis, log search, log group listing, gateway info
// and uninstall.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/awsclients"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/config"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/diagnostics"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/logging"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/stackinfo"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/tracking"
	"github.com/khanrubd/accelerated-intelligent-document-processing-on-aws/internal/uninstall"
)

// toolkit bundles the wired services a command needs.
type toolkit struct {
	cfg      *config.Config
	clients  *awsclients.Clients
	analyzer *diagnostics.Analyzer
	store    *tracking.Store
	logger   *zap.Logger
}

func newToolkit(ctx context.Context, cmd *cli.Command) (*toolkit, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if stack := cmd.String("stack"); stack != "" {
		cfg.StackName = stack
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	clients, err := awsclients.New(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	tableName, err := tracking.DiscoverTableName(ctx, clients.CloudFormation, cfg.TrackingTable, cfg.StackName)
	if err != nil {
		logger.Warn("Tracking table not resolved; tracking-backed commands will report it missing", zap.Error(err))
	}
	store := tracking.NewStore(clients.DynamoDB, tableName, logger)
	analyzer := diagnostics.New(
		clients.Logs,
		clients.StepFunctions,
		clients.XRay,
		clients.CloudFormation,
		store,
		cfg.Analyzer,
		logger,
	)
	return &toolkit{cfg: cfg, clients: clients, analyzer: analyzer, store: store, logger: logger}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	root := &cli.Command{
		Name:  "idpctl",
		Usage: "operate a deployed IDP stack",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stack",
				Usage: "stack name (defaults to AWS_STACK_NAME)",
			},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			logsCommand(),
			groupsCommand(),
			stackInfoCommand(),
			uninstallCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "diagnose processing failures",
		Commands: []*cli.Command{
			{
				Name:      "document",
				Usage:     "full diagnosis of one document",
				ArgsUsage: "<object-key>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					key := cmd.Args().First()
					if key == "" {
						return fmt.Errorf("object key is required")
					}
					tk, err := newToolkit(ctx, cmd)
					if err != nil {
						return err
					}
					analysis, err := tk.analyzer.AnalyzeDocument(ctx, key, tk.cfg.StackName)
					if err != nil {
						return err
					}
					return printJSON(analysis)
				},
			},
			{
				Name:  "system",
				Usage: "stack-wide error sweep",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "hours", Value: 24, Usage: "look-back window in hours"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					tk, err := newToolkit(ctx, cmd)
					if err != nil {
						return err
					}
					analysis, err := tk.analyzer.AnalyzeSystem(ctx, tk.cfg.StackName, int(cmd.Int("hours")))
					if err != nil {
						return err
					}
					return printJSON(analysis)
				},
			},
		},
	}
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "search the stack's log groups for a pattern",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Value: "ERROR", Usage: "CloudWatch filter pattern"},
			&cli.IntFlag{Name: "hours", Value: 24, Usage: "look-back window in hours"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tk, err := newToolkit(ctx, cmd)
			if err != nil {
				return err
			}
			result, err := tk.analyzer.StackLogs(ctx, tk.cfg.StackName, cmd.String("pattern"), int(cmd.Int("hours")))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func groupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "groups",
		Usage: "list the stack's log groups",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Usage: "log group prefix (defaults to the stack's prefix)"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tk, err := newToolkit(ctx, cmd)
			if err != nil {
				return err
			}
			prefix := cmd.String("prefix")
			if prefix == "" {
				info, err := tk.analyzer.LogGroupPrefix(ctx, tk.cfg.StackName)
				if err != nil {
					return err
				}
				prefix = info.LogGroupPrefix
			}
			list, err := tk.analyzer.ListLogGroups(ctx, prefix)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(list)
			}
			if list.Warning != "" {
				fmt.Println(list.Warning)
			}
			for _, group := range list.LogGroups {
				fmt.Printf("%-80s %10s  retention=%s\n",
					group.Name, humanize.Bytes(uint64(group.SizeBytes)), group.Retention)
			}
			fmt.Printf("%d log groups under %s\n", list.LogGroupsFound, prefix)
			return nil
		},
	}
}

func stackInfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "stack-info",
		Usage: "show the stack's gateway and Cognito configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tk, err := newToolkit(ctx, cmd)
			if err != nil {
				return err
			}
			svc := stackinfo.New(tk.clients.CloudFormation, tk.clients.Cognito, tk.clients.Region(), tk.logger)
			info, err := svc.GatewayInfo(ctx, tk.cfg.StackName)
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
}

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "empty the stack's buckets and delete the stack",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "skip the confirmation prompt"},
			&cli.StringFlag{
				Name:  "prefix",
				Value: "idp-dev",
				Usage: "installer prefix naming the install bucket, service role stack and permission boundary",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tk, err := newToolkit(ctx, cmd)
			if err != nil {
				return err
			}
			if !cmd.Bool("yes") {
				fmt.Printf("This deletes stack %q and ALL its data. Type the stack name to confirm: ", tk.cfg.StackName)
				var confirmation string
				if _, err := fmt.Scanln(&confirmation); err != nil || confirmation != tk.cfg.StackName {
					return fmt.Errorf("uninstall aborted")
				}
			}
			svc := uninstall.New(tk.clients.CloudFormation, tk.clients.S3, tk.clients.IAM, tk.clients.Region(), cmd.String("prefix"), tk.logger)
			report, err := svc.Uninstall(ctx, tk.cfg.StackName)
			if report != nil {
				_ = printJSON(report)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Stack %s removed (%s objects deleted)\n",
				tk.cfg.StackName, strconv.Itoa(report.ObjectsDeleted))
			return nil
		},
	}
}
