package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vigil"
	"vigil/cmd/vigil/ui"
	"vigil/internal/directory"
)

type cameraParams struct {
	Camera     string `json:"camera"`
	OrigName   string `json:"orig_name,omitempty"`
	URI        string `json:"uri,omitempty"`
	RemoveData bool   `json:"remove_data,omitempty"`
}

func camerasCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cameras",
		Short: "List cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cams []vigil.CameraRecord
			if err := call(*dir, directory.OpCameras, nil, &cams); err != nil {
				return err
			}
			if len(cams) == 0 {
				fmt.Println(ui.Muted("no cameras configured"))
				return nil
			}

			rows := make([][]string, 0, len(cams))
			for _, c := range cams {
				seen := ui.Muted("never")
				if !c.LastSeen.IsZero() {
					seen = c.LastSeen.Format(time.RFC3339)
				}
				rows = append(rows, []string{
					c.Name,
					ui.Enabled(c.Enabled),
					ui.Status(c.Status.String()),
					c.Reason,
					seen,
				})
			}
			fmt.Println(ui.Table([]string{"NAME", "ENABLED", "STATUS", "REASON", "LAST SEEN"}, rows))
			return nil
		},
	}
}

func cameraCmd(dir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "camera",
		Short: "Manage cameras",
	}
	cmd.AddCommand(
		cameraAddCmd(dir),
		cameraEditCmd(dir),
		cameraRemoveCmd(dir),
		cameraToggleCmd(dir, "enable", directory.OpCameraEnable),
		cameraToggleCmd(dir, "disable", directory.OpCameraDisable),
	)
	return cmd
}

func cameraAddCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME URI",
		Short: "Add a camera",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cameraParams{Camera: args[0], URI: args[1]}
			if err := call(*dir, directory.OpCameraAdd, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("camera %s added", args[0]))
			return nil
		},
	}
}

func cameraEditCmd(dir *string) *cobra.Command {
	var uri, rename string

	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Change a camera's URI or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if uri == "" && rename == "" {
				return fmt.Errorf("nothing to change: pass --uri or --rename")
			}
			p := cameraParams{OrigName: args[0], Camera: args[0], URI: uri}
			if rename != "" {
				p.Camera = rename
			}
			if err := call(*dir, directory.OpCameraEdit, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("camera %s updated", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&uri, "uri", "", "New stream URI")
	cmd.Flags().StringVar(&rename, "rename", "", "New camera name")
	return cmd
}

func cameraRemoveCmd(dir *string) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cameraParams{Camera: args[0], RemoveData: purge}
			if err := call(*dir, directory.OpCameraRemove, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("camera %s removed", args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the camera's stored observations")
	return cmd
}

func cameraToggleCmd(dir *string, verb, op string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: verb + " a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(*dir, op, cameraParams{Camera: args[0]}, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("camera %s %sd", args[0], verb))
			return nil
		},
	}
}
