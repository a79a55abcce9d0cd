package workflow

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"gitmine.dev/labbook/internal/labbookerr"
)

// Provision creates a remote GitLab project named name via adminServiceURL,
// in the namespace of the user accessToken belongs to (owner is used only in
// error messages), and points the local repo's origin at it,
// so the first Publish call has somewhere to push. This is the one place
// the GitLab administrative client is exercised as a library dependency —
// this module does not implement the GitLab server side, identity, or
// token issuance, only these client calls.
func (e *Engine) Provision(ctx context.Context, adminServiceURL, accessToken, owner, name string) (string, error) {
	client, err := gitlab.NewClient(accessToken, gitlab.WithBaseURL(adminServiceURL+"/api/v4"))
	if err != nil {
		return "", labbookerr.New(labbookerr.KindRemote, "workflow.Provision", "failed to create gitlab client", err)
	}

	visibility := gitlab.PrivateVisibility
	project, _, err := client.Projects.CreateProject(&gitlab.CreateProjectOptions{
		Name:                 gitlab.Ptr(name),
		Path:                 gitlab.Ptr(name),
		NamespaceID:          nil,
		Visibility:           &visibility,
		InitializeWithReadme: gitlab.Ptr(false),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", labbookerr.New(labbookerr.KindRemote, "workflow.Provision",
			fmt.Sprintf("failed creating gitlab project %s/%s", owner, name), err)
	}

	if err := e.repo.AddRemote(ctx, "origin", project.HTTPURLToRepo); err != nil {
		return "", labbookerr.New(labbookerr.KindRemote, "workflow.Provision", "failed configuring origin remote", err)
	}

	return project.HTTPURLToRepo, nil
}
