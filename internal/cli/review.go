package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"kinforge/internal/model"
	"kinforge/internal/store"
)

var (
	reviewLimit   int
	reviewUser    string
	reviewJustify string
	reviewChoice  string
	reviewValue   string
	reviewReason  string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the queue of facts awaiting a human decision",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List facts awaiting review, least confident first",
	RunE:  runReviewList,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <fact-id>",
	Short: "Approve a pending decision",
	Long: `Approve signs off on the pending decision for a fact. Conflicting
decisions require --user and --resolution (keep_external, use_extracted,
merge_both, or manual_edit with --value).`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewApprove,
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <fact-id>",
	Short: "Reject a pending decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewReject,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)

	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 25, "maximum facts to list")

	reviewApproveCmd.Flags().StringVar(&reviewUser, "user", "", "reviewer identity")
	reviewApproveCmd.Flags().StringVar(&reviewJustify, "justification", "", "why this decision is right")
	reviewApproveCmd.Flags().StringVar(&reviewChoice, "resolution", "", "conflict resolution choice")
	reviewApproveCmd.Flags().StringVar(&reviewValue, "value", "", "manual value (manual_edit only)")

	reviewRejectCmd.Flags().StringVar(&reviewUser, "user", "", "reviewer identity")
	reviewRejectCmd.Flags().StringVar(&reviewReason, "reason", "", "why the fact is wrong")
}

func runReviewList(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	facts, err := a.st.FactsNeedingReview(ctx, reviewLimit)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Println("Review queue is empty.")
		return nil
	}

	for _, f := range facts {
		fmt.Printf("%-36s  %.2f  %-18s  %s = %q\n", f.ID, f.Confidence, f.Type, f.SubjectName, f.Value)
		if d, err := a.st.GetDecisionByFact(ctx, f.ID); err == nil && d.Conflict {
			fmt.Printf("%38s conflict [%s]: store has %q\n", "", d.Severity, d.ExternalValue)
		}
	}
	return nil
}

func runReviewApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	factID := args[0]

	d, err := a.st.GetDecisionByFact(ctx, factID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no decision for fact %s", factID)
		}
		return err
	}

	if d.Conflict {
		if reviewChoice == "" {
			return fmt.Errorf("decision %s is a conflict; pass --resolution", d.ID)
		}
		if err := d.Resolve(model.ConflictResolution(reviewChoice), reviewUser, reviewValue, reviewJustify); err != nil {
			return err
		}
	}
	if err := d.Approve(reviewUser, reviewJustify); err != nil {
		return err
	}
	if err := a.st.SaveDecision(ctx, d); err != nil {
		return err
	}

	entry := model.NewAuditEntry("decision_approved", "decision", d.ID).ByUser(reviewUser).
		With("fact_id", factID)
	if err := a.st.Append(ctx, entry); err != nil {
		return err
	}

	res, err := a.committer.ApplyApproved(ctx, a.st, d)
	if err != nil {
		return fmt.Errorf("apply decision %s: %w", d.ID, err)
	}

	if res.ExternalID != "" {
		fmt.Printf("✓ Approved and committed decision %s for fact %s (record %s)\n", d.ID, factID, res.ExternalID)
	} else {
		fmt.Printf("✓ Approved decision %s for fact %s\n", d.ID, factID)
	}
	return nil
}

func runReviewReject(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	factID := args[0]

	d, err := a.st.GetDecisionByFact(ctx, factID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no decision for fact %s", factID)
		}
		return err
	}
	if d.Approval == model.ApprovalCommitted {
		return fmt.Errorf("decision %s is already committed", d.ID)
	}

	d.Approval = model.ApprovalRejected
	d.ApprovedBy = reviewUser
	d.Reason = reviewReason
	if err := a.st.SaveDecision(ctx, d); err != nil {
		return err
	}
	if err := a.st.UpdateFactStatus(ctx, factID, model.StatusRejected, reviewReason, true); err != nil {
		return err
	}

	entry := model.NewAuditEntry("decision_rejected", "decision", d.ID).ByUser(reviewUser).
		With("fact_id", factID).With("reason", reviewReason)
	if err := a.st.Append(ctx, entry); err != nil {
		return err
	}

	fmt.Printf("✗ Rejected decision %s for fact %s\n", d.ID, factID)
	return nil
}
