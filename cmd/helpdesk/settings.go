package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/orvale/helpdesk/internal/recovery"
	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect recovery settings",
	}

	cmd.AddCommand(newSettingsShowCmd())
	return cmd
}

func newSettingsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the recovery policy in effect",
		Long:  "Reads the stored recovery settings row, falling back to defaults, and prints the normalized policy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			s := recovery.LoadSettings(cmd.Context(), gormDB)
			printSettings(cmd, s)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "helpdesk.yaml", "path to helpdesk config file")
	return cmd
}

func printSettings(cmd *cobra.Command, s recovery.Settings) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "auto_requeue_enabled\t%v\n", s.AutoRequeueEnabled)
	fmt.Fprintf(w, "requeue_position\t%s\n", s.RequeuePosition)
	fmt.Fprintf(w, "priority_boost_amount\t%d\n", s.PriorityBoostAmount)
	fmt.Fprintf(w, "staff_disconnect_timeout\t%s\n", s.StaffDisconnectTimeout)
	fmt.Fprintf(w, "grace_period\t%s\n", s.GracePeriod)
	fmt.Fprintf(w, "auto_reassign_after\t%s\n", s.AutoReassignAfter)
	fmt.Fprintf(w, "notify_guest_on_staff_disconnect\t%v\n", s.NotifyGuestOnStaffDisconnect)
	fmt.Fprintf(w, "staff_disconnect_message\t%q\n", s.StaffDisconnectMessage)
	fmt.Fprintf(w, "reassignment_message\t%q\n", s.ReassignmentMessage)
	fmt.Fprintf(w, "escalate_on_repeated_disconnect\t%v\n", s.EscalateOnRepeatedDisconnect)
	fmt.Fprintf(w, "max_disconnects_before_escalation\t%d\n", s.MaxDisconnectsBeforeEscalation)
	fmt.Fprintf(w, "escalation_priority\t%s\n", s.EscalationPriority)
	fmt.Fprintf(w, "create_ticket_on_escalation\t%v\n", s.CreateTicketOnEscalation)
	fmt.Fprintf(w, "guest_inactivity_timeout\t%s\n", s.GuestInactivityTimeout)
	w.Flush()
}
