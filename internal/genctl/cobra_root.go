package genctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config carries the persistent CLI settings.
type Config struct {
	Server string
	LogLvl string
}

// buildRootCmd constructs the Cobra command tree over a Client.
func buildRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "genctl",
		Short:         "Command-line client for the vidgend video generation API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", cfg.Server, "vidgend server base URL (defaults VIDGEND_SERVER or http://127.0.0.1:8000)")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error (defaults GENCTL_LOG_LEVEL or info)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("server"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.Server = v
			}
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil {
			if v := f.Value.String(); v != "" {
				cfg.LogLvl = v
			}
		}
		SetLogLevel(cfg.LogLvl)
	}
	client := func() *Client { return NewClient(cfg.Server) }

	tasksCmd := &cobra.Command{Use: "tasks", Short: "List tasks the server can serve", RunE: func(cmd *cobra.Command, args []string) error {
		out, err := client().Tasks()
		if err != nil {
			return err
		}
		fmt.Printf("default: %s\n", out.CurrentTask)
		for _, t := range out.AvailableTasks {
			fmt.Println(t)
		}
		return nil
	}}
	root.AddCommand(tasksCmd)

	sizesCmd := &cobra.Command{Use: "sizes <task>", Short: "List supported sizes for a task", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		out, err := client().Sizes(args[0])
		if err != nil {
			return err
		}
		for _, s := range out.SupportedSizes {
			fmt.Println(s)
		}
		return nil
	}}
	root.AddCommand(sizesCmd)

	statusCmd := &cobra.Command{Use: "status", Short: "Show queue and model residency", RunE: func(cmd *cobra.Command, args []string) error {
		out, err := client().Status()
		if err != nil {
			return err
		}
		fmt.Printf("queue: %d/%d\n", out.QueueLen, out.QueueDepth)
		for _, d := range out.Devices {
			fmt.Printf("device %d:\n", d.Device)
			if len(d.Models) == 0 {
				fmt.Println("  (no resident models)")
			}
			for _, m := range d.Models {
				fmt.Printf("  %s state=%s footprint_mb=%d\n", m.Task, m.State, m.FootprintMB)
			}
		}
		return nil
	}}
	root.AddCommand(statusCmd)

	// generate
	var (
		genTask   string
		genPrompt string
		genSize   string
		genFrames int
		genSeed   int64
		genSteps  int
		genGuide  float64
		genImage  string
		genOut    string
		genAsync  bool
		genWait   bool
	)
	generateCmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a video",
		Example: "  genctl generate --prompt \"a cat surfing\" --task t2v-A14B --seed 42 -o cat.mp4",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := GenerateParams{
				Task:      genTask,
				Prompt:    genPrompt,
				Size:      genSize,
				ImagePath: genImage,
			}
			if cmd.Flags().Changed("frames") {
				p.FrameNum = &genFrames
			}
			if cmd.Flags().Changed("seed") {
				p.Seed = &genSeed
			}
			if cmd.Flags().Changed("steps") {
				p.SampleSteps = &genSteps
			}
			if cmd.Flags().Changed("guide") {
				p.GuideScale = &genGuide
			}
			c := client()
			if genAsync {
				job, err := c.SubmitJob(p)
				if err != nil {
					return err
				}
				info("submitted job %s state=%s", job.ID, job.State)
				if !genWait {
					fmt.Println(job.ID)
					return nil
				}
				job, err = c.WaitJob(job.ID, 2*time.Second)
				if err != nil {
					return err
				}
				if job.State != "succeeded" {
					return fmt.Errorf("job %s finished %s: %s", job.ID, job.State, job.Error)
				}
				res, err := c.FetchResult(job.ID, genOut)
				if err != nil {
					return err
				}
				info("wrote %s (%d bytes, seed %d)", res.OutPath, res.Bytes, job.Seed)
				return nil
			}
			debug("posting /generate to %s", cfg.Server)
			res, err := c.Generate(p, genOut)
			if err != nil {
				return err
			}
			info("wrote %s (%d bytes, job %s, seed %s)", res.OutPath, res.Bytes, res.JobID, res.Seed)
			return nil
		},
	}
	generateCmd.Flags().StringVar(&genTask, "task", "", "Task id (server default when empty)")
	generateCmd.Flags().StringVar(&genPrompt, "prompt", "", "Text prompt (required)")
	generateCmd.Flags().StringVar(&genSize, "size", "", "Output size, e.g. 1280*704")
	generateCmd.Flags().IntVar(&genFrames, "frames", 0, "Frame count (must be 4n+1)")
	generateCmd.Flags().Int64Var(&genSeed, "seed", -1, "Seed (-1 draws a random one)")
	generateCmd.Flags().IntVar(&genSteps, "steps", 0, "Sampling steps")
	generateCmd.Flags().Float64Var(&genGuide, "guide", 0, "Guidance scale")
	generateCmd.Flags().StringVar(&genImage, "image", "", "Conditioning image path (i2v tasks)")
	generateCmd.Flags().StringVarP(&genOut, "output", "o", "", "Output file (default video_<job>.mp4)")
	generateCmd.Flags().BoolVar(&genAsync, "async", false, "Submit as a job instead of waiting on the response")
	generateCmd.Flags().BoolVar(&genWait, "wait", false, "With --async, poll until terminal and fetch the result")
	_ = generateCmd.MarkFlagRequired("prompt")
	root.AddCommand(generateCmd)

	// jobs group
	jobsCmd := &cobra.Command{Use: "jobs", Short: "Inspect and control jobs", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("jobs requires a subcommand: status|cancel|result")
	}}
	jobsStatus := &cobra.Command{Use: "status <id>", Short: "Show one job", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		job, err := client().JobStatus(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id=%s task=%s state=%s", job.ID, job.Task, job.State)
		if job.Error != "" {
			fmt.Printf(" error=%q", job.Error)
		}
		fmt.Println()
		return nil
	}}
	jobsCancel := &cobra.Command{Use: "cancel <id>", Short: "Cancel a job", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		job, err := client().CancelJob(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("id=%s state=%s\n", job.ID, job.State)
		return nil
	}}
	var resultOut string
	jobsResult := &cobra.Command{Use: "result <id>", Short: "Download a finished job's video", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().FetchResult(args[0], resultOut)
		if err != nil {
			return err
		}
		info("wrote %s (%d bytes)", res.OutPath, res.Bytes)
		return nil
	}}
	jobsResult.Flags().StringVarP(&resultOut, "output", "o", "", "Output file (default video_<job>.mp4)")
	jobsCmd.AddCommand(jobsStatus, jobsCancel, jobsResult)
	root.AddCommand(jobsCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	root.AddCommand(completionCmd)

	return root
}

// Execute runs the CLI.
func Execute(args []string) error {
	cfg := &Config{
		Server: envStr("VIDGEND_SERVER", "http://127.0.0.1:8000"),
		LogLvl: envStr("GENCTL_LOG_LEVEL", "info"),
	}
	root := buildRootCmd(cfg)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if strings.Contains(err.Error(), "unknown command") {
			_ = root.Help()
		}
		return err
	}
	return nil
}
