package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/store"
)

func runApproval(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden approval <list|resolve>")
		return 2
	}
	switch args[0] {
	case "list":
		return runApprovalList(args[1:], stdout, stderr)
	case "resolve":
		return runApprovalResolve(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown approval subcommand: %s\n", args[0])
		return 2
	}
}

func runApprovalList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approval list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		status  string
		agentID string
	)
	cmd.StringVar(&status, "status", "", "Filter by status (pending|approved|rejected|timeout)")
	cmd.StringVar(&agentID, "agent", "", "Filter by agent id")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	approvals, err := e.ListApprovals(ctx, store.ApprovalQuery{
		Status:  contracts.ApprovalStatus(status),
		AgentID: agentID,
	})
	if err != nil {
		return fail(stderr, err)
	}
	for _, a := range approvals {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\tdeadline=%s\n",
			a.ID, a.AgentID, a.Tool, a.Status, a.Deadline)
	}
	return 0
}

func runApprovalResolve(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approval resolve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		id       string
		approve  bool
		reject   bool
		approver string
		comment  string
	)
	cmd.StringVar(&id, "id", "", "Approval id (REQUIRED)")
	cmd.BoolVar(&approve, "approve", false, "Approve the request")
	cmd.BoolVar(&reject, "reject", false, "Reject the request")
	cmd.StringVar(&approver, "by", "", "Approver identity")
	cmd.StringVar(&comment, "comment", "", "Resolution comment")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" || approve == reject {
		_, _ = fmt.Fprintln(stderr, "approval resolve: --id and exactly one of --approve/--reject are required")
		return 2
	}

	status := contracts.ApprovalApproved
	if reject {
		status = contracts.ApprovalRejected
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	outcome, err := e.ResolveApproval(ctx, id, contracts.ApprovalResolution{
		Status:   status,
		Approver: approver,
		Comment:  comment,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if !outcome.Resolved {
		fmt.Fprintf(stdout, "approval %s was already %s\n", id, outcome.Request.Status)
		return 3
	}
	fmt.Fprintf(stdout, "approval %s %s\n", id, outcome.Request.Status)
	return 0
}
