/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type publishOptions struct {
	platform    string
	contentType string
	mediaURLs   []string
	caption     string
	audioURL    string
	workspace   string
	payloadPath string
	dryRun      bool
}

func newPublishCommand() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one post and print the result as JSON",
		Long: "publish normalizes the payload, resolves credentials from SMM_<PLATFORM>_ACCESS_TOKEN and " +
			"SMM_<PLATFORM>_ACCOUNT_ID and runs the platform's publish protocol. " +
			"A payload file may be JSON or YAML; flags override its fields.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, opts)
		},
		Example: `  smmpublish publish --platform facebook --type carousel --media https://x/1.jpg --media https://x/2.jpg
  smmpublish publish --platform tiktok --media https://x/clip.mp4 --caption "new drop"
  cat story.yaml | smmpublish publish --payload -`,
	}

	cmd.Flags().StringVarP(&opts.platform, "platform", "p", "", "Target platform (instagram, facebook, tiktok)")
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", "", "Content type (post, carousel, story)")
	cmd.Flags().StringArrayVarP(&opts.mediaURLs, "media", "m", nil, "Media URL; repeat for carousels")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "Final caption text")
	cmd.Flags().StringVar(&opts.audioURL, "audio", "", "Audio URL for stories")
	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "Workspace identifier recorded in logs")
	cmd.Flags().StringVar(&opts.payloadPath, "payload", "", "Read the payload from a JSON or YAML file, or - for stdin")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Simulate the publish without contacting any platform")
	cmd.Flags().SortFlags = false

	return cmd
}

func runPublish(cmd *cobra.Command, opts publishOptions) error {
	ctx := cmd.Context()

	payload, err := resolvePayload(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}

	var resolver publish.CredentialResolver = publish.EnvResolver{}
	if opts.dryRun {
		resolver = publish.SimulatedResolver{}
	}

	orch, err := buildOrchestrator(ctx, cfg, resolver)
	if err != nil {
		return err
	}

	result := orch.Publish(ctx, opts.workspace, payload)
	if err := writeResult(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		msg := string(result.Status)
		if result.Error != nil {
			msg = fmt.Sprintf("%s: %s", result.Status, result.Error.Message)
		}
		return errors.New("publish failed: " + msg)
	}
	return nil
}

func resolvePayload(stdin io.Reader, opts publishOptions) (publish.Payload, error) {
	var payload publish.Payload

	if opts.payloadPath != "" {
		var (
			data []byte
			err  error
		)
		if opts.payloadPath == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(opts.payloadPath)
		}
		if err != nil {
			return payload, fmt.Errorf("read payload: %w", err)
		}
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return payload, fmt.Errorf("parse payload: %w", err)
		}
	}

	if opts.platform != "" {
		payload.Platform = publish.Platform(opts.platform)
	}
	if opts.contentType != "" {
		payload.ContentType = publish.ContentType(opts.contentType)
	}
	if len(opts.mediaURLs) > 0 {
		payload.MediaURLs = opts.mediaURLs
	}
	if opts.caption != "" {
		payload.CaptionFinal = opts.caption
	}
	if opts.audioURL != "" {
		payload.AudioURL = opts.audioURL
	}

	if strings.TrimSpace(string(payload.Platform)) == "" {
		return payload, errors.New("platform is required (--platform or payload file)")
	}
	return payload, nil
}

func writeResult(out io.Writer, result publish.Result) error {
	enc := json.NewEncoder(out)
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
