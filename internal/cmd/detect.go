package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/internal/camera"
	"github.com/dj-oyu/class-monitor/internal/overlay"
	"github.com/dj-oyu/class-monitor/internal/perception"
)

type detectOptions struct {
	image    string
	sidecar  string
	preset   string
	annotate string
	asJSON   bool
}

// NewDetectCommand creates the 'classmon detect' command
func NewDetectCommand(g *globalOptions) *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify the behavior in a single image",
		Long: `Run the perception sidecar and the classifier on one image and print
the detected behavior. The standalone preset looks at face and hand
landmarks only; --preset live also applies the phone and food object
rules from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if opts.sidecar != "" {
				cfg.Perception.URL = opts.sidecar
			}

			var thresholds behavior.Thresholds
			switch opts.preset {
			case "standalone":
				thresholds = behavior.StandalonePreset()
			case "live":
				thresholds = cfg.Classifier
			default:
				return fmt.Errorf("unknown preset %q (want standalone or live)", opts.preset)
			}
			classifier, err := behavior.NewClassifier(thresholds)
			if err != nil {
				return err
			}

			src, err := camera.NewImageSource(opts.image)
			if err != nil {
				return err
			}
			defer src.Close()
			frame, err := src.Read(cmd.Context())
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			client := perception.NewClient(cfg.Perception)
			defer client.Close()
			obs, err := client.Perceive(cmd.Context(), frame)
			if err != nil {
				return err
			}
			label := classifier.Classify(obs)

			if opts.annotate != "" {
				annotated, err := overlay.Annotate(frame.Data, label, obs.Objects)
				if err != nil {
					return fmt.Errorf("annotate: %w", err)
				}
				if err := os.WriteFile(opts.annotate, annotated, 0644); err != nil {
					return fmt.Errorf("write annotated image: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				return json.NewEncoder(out).Encode(map[string]any{
					"image":    opts.image,
					"behavior": label,
					"faces":    len(obs.Faces),
					"hands":    len(obs.Hands),
					"objects":  obs.Objects,
				})
			}
			fmt.Fprint(out, "Detected behavior: ")
			printLabel(out, label)
			fmt.Fprintln(out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.image, "image", "", "Path of the image to classify")
	flags.StringVar(&opts.sidecar, "sidecar", "", "Perception sidecar base URL")
	flags.StringVar(&opts.preset, "preset", "standalone", "Classifier thresholds: standalone or live")
	flags.StringVar(&opts.annotate, "annotate", "", "Write the annotated image to this path")
	flags.BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}
