package backend

import (
	"context"
	"fmt"
	"time"

	iampb "cloud.google.com/go/iam/apiv1/iampb"
	run "cloud.google.com/go/run/apiv2"
	rpb "cloud.google.com/go/run/apiv2/runpb"
	scheduler "cloud.google.com/go/scheduler/apiv1"
	spb "cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	deploy "github.com/psxresearch/deployctl"
	"github.com/psxresearch/deployctl/job"
	"github.com/psxresearch/deployctl/schedule"
)

// requiredServices are the administrative APIs a Cloud Run deployment talks
// to. Enabling an already-enabled service is a no-op on the GCP side.
var requiredServices = []string{
	"run.googleapis.com",
	"cloudscheduler.googleapis.com",
	"secretmanager.googleapis.com",
	"iam.googleapis.com",
}

const invokerRole = "roles/run.invoker"

// CloudRun registers each job as a Cloud Run Job and its trigger as a Cloud
// Scheduler job that POSTs the run endpoint with an OIDC token minted for a
// dedicated invoker service account. All resources live in one region.
type CloudRun struct {
	ProjectID        string
	Region           string
	Image            string
	InvokerAccountID string
	// Optional additional client options (e.g., custom credentials)
	ClientOptions []option.ClientOption

	log zerolog.Logger
}

func NewCloudRun(cfg *deploy.Config, log zerolog.Logger) *CloudRun {
	return &CloudRun{
		ProjectID:        cfg.ProjectID,
		Region:           cfg.Region,
		Image:            cfg.Image,
		InvokerAccountID: cfg.InvokerAccountID,
		log:              log.With().Str("backend", "cloudrun").Logger(),
	}
}

func (c *CloudRun) Name() string { return "cloudrun" }

func (c *CloudRun) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.ProjectID, c.Region)
}

func (c *CloudRun) jobName(id string) string {
	return fmt.Sprintf("%s/jobs/%s", c.parent(), id)
}

func (c *CloudRun) invokerEmail() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", c.InvokerAccountID, c.ProjectID)
}

func (c *CloudRun) Check(_ context.Context) error {
	if c.ProjectID == "" || c.Region == "" {
		return fmt.Errorf("%w: cloudrun backend needs a project id and region", deploy.ErrConfig)
	}
	if c.Image == "" {
		return fmt.Errorf("%w: cloudrun backend needs a container image", deploy.ErrConfig)
	}
	return nil
}

// Authenticate resolves application default credentials and exchanges them
// for a token once, so a missing or expired login fails the run before any
// resource is touched.
func (c *CloudRun) Authenticate(ctx context.Context) error {
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return fmt.Errorf("%w: no application default credentials: %v", deploy.ErrAuth, err)
	}
	if _, err := creds.TokenSource.Token(); err != nil {
		return fmt.Errorf("%w: exchanging credentials: %v", deploy.ErrAuth, err)
	}
	c.log.Debug().Str("project", c.ProjectID).Msg("authenticated with application default credentials")
	return nil
}

// EnableServices batch-enables the required APIs and waits for the enablement
// operation, since a job created against a half-enabled project fails in
// confusing ways later.
func (c *CloudRun) EnableServices(ctx context.Context) error {
	svc, err := serviceusage.NewService(ctx, c.ClientOptions...)
	if err != nil {
		return fmt.Errorf("serviceusage client: %w", err)
	}

	op, err := svc.Services.BatchEnable("projects/"+c.ProjectID, &serviceusage.BatchEnableServicesRequest{
		ServiceIds: requiredServices,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("enabling services: %w", err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		op, err = svc.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("waiting for service enablement: %w", err)
		}
	}
	if op.Error != nil {
		return fmt.Errorf("enabling services: %s", op.Error.Message)
	}
	c.log.Debug().Strs("services", requiredServices).Msg("services enabled")
	return nil
}

func (c *CloudRun) Translate(spec job.Spec) (schedule.Translated, error) {
	return schedule.ForCloud(spec)
}

// UpsertJob attempts creation first and falls back to an update with
// identical parameters when the job already exists. Conflicts are recovered
// here and never surfaced as failures.
func (c *CloudRun) UpsertJob(ctx context.Context, spec job.Spec) Result {
	client, err := run.NewJobsClient(ctx, c.ClientOptions...)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("run client: %w", err))
	}
	defer client.Close()

	desired := c.renderJob(spec)

	op, err := client.CreateJob(ctx, &rpb.CreateJobRequest{
		Parent: c.parent(),
		Job:    desired,
		JobId:  spec.Name,
	})
	switch {
	case err == nil:
		if _, err := op.Wait(ctx); err != nil {
			return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("creating job: %w", err))
		}
		c.log.Info().Str("job", spec.Name).Msg("cloud run job created")
		return OK(c.Name(), spec.Name, KindJob, OpCreated)
	case deploy.IsConflict(err):
		// Exists from a prior run, converge through an update.
	case deploy.IsPermission(err):
		return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("%w: creating job %s: %v", deploy.ErrPermission, spec.Name, err))
	default:
		return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("creating job: %w", err))
	}

	upd, err := client.UpdateJob(ctx, &rpb.UpdateJobRequest{Job: desired})
	if err != nil {
		if deploy.IsPermission(err) {
			return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("%w: updating job %s: %v", deploy.ErrPermission, spec.Name, err))
		}
		return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("updating job: %w", err))
	}
	if _, err := upd.Wait(ctx); err != nil {
		return Fail(c.Name(), spec.Name, KindJob, fmt.Errorf("updating job: %w", err))
	}
	c.log.Info().Str("job", spec.Name).Msg("cloud run job updated")
	return OK(c.Name(), spec.Name, KindJob, OpUpdated)
}

func (c *CloudRun) renderJob(spec job.Spec) *rpb.Job {
	env := make([]*rpb.EnvVar, 0, len(spec.Secrets))
	for _, ref := range spec.Secrets {
		env = append(env, &rpb.EnvVar{
			Name: ref.Env,
			Values: &rpb.EnvVar_ValueSource{
				ValueSource: &rpb.EnvVarSource{
					SecretKeyRef: &rpb.SecretKeySelector{
						Secret:  ref.Name,
						Version: "latest",
					},
				},
			},
		})
	}

	return &rpb.Job{
		Name: c.jobName(spec.Name),
		Template: &rpb.ExecutionTemplate{
			Template: &rpb.TaskTemplate{
				Containers: []*rpb.Container{
					{
						Image:   c.Image,
						Command: []string{spec.Command},
						Args:    spec.Args,
						Env:     env,
						Resources: &rpb.ResourceRequirements{Limits: map[string]string{
							"cpu":    spec.Resources.CPU,
							"memory": spec.Resources.Memory,
						}},
					},
				},
				Retries: &rpb.TaskTemplate_MaxRetries{MaxRetries: 3},
				Timeout: durationpb.New(spec.Resources.Timeout),
			},
		},
	}
}

// UpsertTrigger provisions the invoker identity and its run.invoker binding
// on the job, then upserts the Cloud Scheduler job targeting the run
// endpoint. It is only called after UpsertJob succeeded, because both the
// binding and the trigger reference the job resource.
func (c *CloudRun) UpsertTrigger(ctx context.Context, spec job.Spec, tr schedule.Translated) Result {
	email, err := c.ensureInvoker(ctx, spec)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindTrigger, err)
	}

	sched, err := scheduler.NewCloudSchedulerClient(ctx, c.ClientOptions...)
	if err != nil {
		return Fail(c.Name(), spec.Name, KindTrigger, fmt.Errorf("scheduler client: %w", err))
	}
	defer sched.Close()

	desired := &spb.Job{
		Name:     c.jobName(spec.Name),
		Schedule: tr.Cron,
		TimeZone: tr.TimeZone,
		Target: &spb.Job_HttpTarget{HttpTarget: &spb.HttpTarget{
			HttpMethod: spb.HttpMethod_POST,
			Uri:        fmt.Sprintf("https://run.googleapis.com/v2/%s:run", c.jobName(spec.Name)),
			AuthorizationHeader: &spb.HttpTarget_OidcToken{
				OidcToken: &spb.OidcToken{ServiceAccountEmail: email},
			},
		}},
		Description: fmt.Sprintf("Runs the %s report job", spec.Name),
	}

	_, err = sched.CreateJob(ctx, &spb.CreateJobRequest{Parent: c.parent(), Job: desired})
	switch {
	case err == nil:
		c.log.Info().Str("job", spec.Name).Str("schedule", tr.Cron).Msg("scheduler trigger created")
		return OK(c.Name(), spec.Name, KindTrigger, OpCreated)
	case deploy.IsConflict(err):
	case deploy.IsPermission(err):
		return Fail(c.Name(), spec.Name, KindTrigger, fmt.Errorf("%w: creating trigger %s: %v", deploy.ErrPermission, spec.Name, err))
	default:
		return Fail(c.Name(), spec.Name, KindTrigger, fmt.Errorf("creating trigger: %w", err))
	}

	if _, err := sched.UpdateJob(ctx, &spb.UpdateJobRequest{Job: desired}); err != nil {
		if deploy.IsPermission(err) {
			return Fail(c.Name(), spec.Name, KindTrigger, fmt.Errorf("%w: updating trigger %s: %v", deploy.ErrPermission, spec.Name, err))
		}
		return Fail(c.Name(), spec.Name, KindTrigger, fmt.Errorf("updating trigger: %w", err))
	}
	c.log.Info().Str("job", spec.Name).Str("schedule", tr.Cron).Msg("scheduler trigger updated")
	return OK(c.Name(), spec.Name, KindTrigger, OpUpdated)
}

// ensureInvoker creates the invoker service account if needed and binds it
// the invoker role on the job resource. Returns the account email for the
// trigger's OIDC config.
func (c *CloudRun) ensureInvoker(ctx context.Context, spec job.Spec) (string, error) {
	email := c.invokerEmail()

	iamSvc, err := iam.NewService(ctx, c.ClientOptions...)
	if err != nil {
		return "", fmt.Errorf("iam client: %w", err)
	}
	_, err = iamSvc.Projects.ServiceAccounts.Create("projects/"+c.ProjectID, &iam.CreateServiceAccountRequest{
		AccountId: c.InvokerAccountID,
		ServiceAccount: &iam.ServiceAccount{
			DisplayName: "Report job invoker",
		},
	}).Context(ctx).Do()
	switch {
	case err == nil:
		c.log.Info().Str("account", email).Msg("invoker service account created")
	case deploy.IsConflict(err):
		// Reuse the existing account.
	case deploy.IsPermission(err):
		return "", fmt.Errorf("%w: creating invoker account: %v", deploy.ErrPermission, err)
	default:
		return "", fmt.Errorf("creating invoker account: %w", err)
	}

	jobs, err := run.NewJobsClient(ctx, c.ClientOptions...)
	if err != nil {
		return "", fmt.Errorf("run client: %w", err)
	}
	defer jobs.Close()

	resource := c.jobName(spec.Name)
	policy, err := jobs.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: resource})
	if err != nil {
		return "", fmt.Errorf("reading job policy: %w", err)
	}
	if !bindInvoker(policy, "serviceAccount:"+email) {
		return email, nil
	}
	if _, err := jobs.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{Resource: resource, Policy: policy}); err != nil {
		if deploy.IsPermission(err) {
			return "", fmt.Errorf("%w: binding %s on %s: %v", deploy.ErrPermission, invokerRole, spec.Name, err)
		}
		return "", fmt.Errorf("binding %s: %w", invokerRole, err)
	}
	c.log.Info().Str("job", spec.Name).Str("account", email).Msg("invoker role bound")
	return email, nil
}

// bindInvoker adds member to the invoker role binding, reporting whether the
// policy changed.
func bindInvoker(policy *iampb.Policy, member string) bool {
	for _, b := range policy.Bindings {
		if b.Role != invokerRole {
			continue
		}
		for _, m := range b.Members {
			if m == member {
				return false
			}
		}
		b.Members = append(b.Members, member)
		return true
	}
	policy.Bindings = append(policy.Bindings, &iampb.Binding{Role: invokerRole, Members: []string{member}})
	return true
}
