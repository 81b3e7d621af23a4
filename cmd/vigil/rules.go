package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil"
	"vigil/cmd/vigil/ui"
	"vigil/internal/directory"
)

type ruleParams struct {
	Name    string         `json:"name"`
	Camera  string         `json:"camera"`
	Enabled bool           `json:"enabled,omitempty"`
	Rule    *vigil.RuleDef `json:"rule,omitempty"`
}

func rulesCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var defs []vigil.RuleDef
			if err := call(*dir, directory.OpRuleList, nil, &defs); err != nil {
				return err
			}
			if len(defs) == 0 {
				fmt.Println(ui.Muted("no rules configured"))
				return nil
			}

			rows := make([][]string, 0, len(defs))
			for _, d := range defs {
				schedule := "always"
				if !d.Schedule.Always() {
					schedule = fmt.Sprintf("%d windows", len(d.Schedule.Windows))
				}
				rows = append(rows, []string{
					d.Name, d.Camera, ui.Enabled(d.Enabled), d.Query, schedule,
				})
			}
			fmt.Println(ui.Table([]string{"NAME", "CAMERA", "ENABLED", "QUERY", "SCHEDULE"}, rows))
			return nil
		},
	}
}

func ruleCmd(dir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage rules",
	}
	cmd.AddCommand(
		ruleAddCmd(dir),
		ruleRemoveCmd(dir),
		ruleToggleCmd(dir, "enable", true),
		ruleToggleCmd(dir, "disable", false),
	)
	return cmd
}

func ruleAddCmd(dir *string) *cobra.Command {
	var camera, query string
	var responses []string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a rule to a camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def := &vigil.RuleDef{
				Name:    args[0],
				Camera:  camera,
				Enabled: true,
				Query:   query,
			}
			for _, r := range responses {
				def.Responses = append(def.Responses, vigil.ResponseConfig{Type: r})
			}
			p := ruleParams{Name: args[0], Camera: camera, Rule: def}
			if err := call(*dir, directory.OpRuleAdd, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("rule %s added on %s", args[0], camera))
			return nil
		},
	}

	cmd.Flags().StringVar(&camera, "camera", "", "Camera the rule watches")
	cmd.Flags().StringVar(&query, "query", "", "Trigger query, e.g. \"type:person min_area:5\"")
	cmd.Flags().StringSliceVar(&responses, "response", []string{"record"}, "Response types to bind")
	_ = cmd.MarkFlagRequired("camera")
	return cmd
}

func ruleRemoveCmd(dir *string) *cobra.Command {
	var camera string

	cmd := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := ruleParams{Name: args[0], Camera: camera}
			if err := call(*dir, directory.OpRuleRemove, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("rule %s removed", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&camera, "camera", "", "Camera the rule watches")
	_ = cmd.MarkFlagRequired("camera")
	return cmd
}

func ruleToggleCmd(dir *string, verb string, enabled bool) *cobra.Command {
	var camera string

	cmd := &cobra.Command{
		Use:   verb + " NAME",
		Short: verb + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := ruleParams{Name: args[0], Camera: camera, Enabled: enabled}
			if err := call(*dir, directory.OpRuleEnable, p, nil); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("rule %s %sd", args[0], verb))
			return nil
		},
	}

	cmd.Flags().StringVar(&camera, "camera", "", "Camera the rule watches")
	_ = cmd.MarkFlagRequired("camera")
	return cmd
}
