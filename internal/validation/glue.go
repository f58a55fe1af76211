package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
)

// GlueAPI is the subset of the AWS Glue client used by the launcher.
type GlueAPI interface {
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
}

// GlueLauncher hands validation to an AWS Glue job. The job reports back by
// POSTing to the callback URL it receives as --callback_url.
type GlueLauncher struct {
	client      GlueAPI
	jobName     string
	callbackURL string
}

// NewGlueLauncher creates a GlueLauncher around an existing client.
func NewGlueLauncher(client GlueAPI, jobName, callbackBaseURL string) *GlueLauncher {
	return &GlueLauncher{
		client:      client,
		jobName:     jobName,
		callbackURL: strings.TrimRight(callbackBaseURL, "/"),
	}
}

// NewGlueLauncherFromEnv loads the default AWS configuration chain.
func NewGlueLauncherFromEnv(ctx context.Context, region, jobName, callbackBaseURL string) (*GlueLauncher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewGlueLauncher(glue.NewFromConfig(cfg), jobName, callbackBaseURL), nil
}

// Launch starts one Glue job run for req.
func (g *GlueLauncher) Launch(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	if g.jobName == "" {
		return fmt.Errorf("glue launcher: job name is required")
	}

	out, err := g.client.StartJobRun(ctx, &glue.StartJobRunInput{
		JobName:   aws.String(g.jobName),
		Arguments: g.Arguments(req),
	})
	if err != nil {
		return fmt.Errorf("glue launcher: StartJobRun failed: %w", err)
	}

	var runID string
	if out != nil {
		runID = aws.ToString(out.JobRunId)
	}
	slog.Info("data validation job started",
		"case_log_id", req.CaseLog.ID,
		"glue_job_name", g.jobName,
		"glue_job_run_id", runID,
	)
	return nil
}

// Arguments builds the Glue job arguments for req. Credentials are never
// passed: the job resolves them from the connection id.
func (g *GlueLauncher) Arguments(req Request) map[string]string {
	args := map[string]string{
		"--case_log_id":  req.CaseLog.ID.String(),
		"--test_case_id": req.TestCaseID.String(),
		"--callback_url": fmt.Sprintf("%s/api/v1/case-logs/%s/complete", g.callbackURL, req.CaseLog.ID),
	}
	addEndpoint(args, "source", req.Source)
	addEndpoint(args, "target", req.Target)
	return args
}

func addEndpoint(args map[string]string, side string, e Endpoint) {
	args["--"+side+"_db_id"] = e.DBID.String()
	args["--"+side+"_db_type"] = e.DBType
	args["--"+side+"_db_name"] = e.DBName
	args["--"+side+"_db_hostname"] = e.Hostname
	args["--"+side+"_table"] = e.Table
	args["--"+side+"_query"] = e.Query
}
