package provisioner

import "webserverprovisioner/awsd/models"

// Session identifies one provisioning run. Every key pair, security group and instance
// created by the run carries a tag whose key is the session id, so all of them can be
// found again later.
type Session struct {
	ID        string
	AccountID string
}

// Tags returns the session tag
func (s Session) Tags() []models.Tag {
	return []models.Tag{{Key: s.ID, Value: ""}}
}
