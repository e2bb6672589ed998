package provisioner

import (
	"fmt"

	"webserverprovisioner/awsd/models"
)

// verifyInstance compares the running instance with what was requested and describes every
// difference. An empty result means the instance matches the launch spec.
func verifyInstance(spec models.LaunchSpec, instance *models.AWSInstance) []string {
	var drifts []string

	if instance.InstanceType != "" && instance.InstanceType != spec.InstanceType {
		drifts = append(drifts, fmt.Sprintf("InstanceType drift detected: requested=%s, actual=%s", spec.InstanceType, instance.InstanceType))
	}
	if instance.AMI != "" && instance.AMI != spec.ImageID {
		drifts = append(drifts, fmt.Sprintf("AMI drift detected: requested=%s, actual=%s", spec.ImageID, instance.AMI))
	}
	if instance.KeyName != "" && instance.KeyName != spec.KeyName {
		drifts = append(drifts, fmt.Sprintf("KeyName drift detected: requested=%s, actual=%s", spec.KeyName, instance.KeyName))
	}

	attached := make(map[string]bool)
	for _, sg := range instance.SecurityGroups {
		attached[sg.GroupId] = true
	}
	for _, id := range spec.SecurityGroupIDs {
		if len(instance.SecurityGroups) > 0 && !attached[id] {
			drifts = append(drifts, fmt.Sprintf("Security Group drift detected: requested=%s, actual=%v", id, instance.SecurityGroups))
		}
	}

	for _, tag := range spec.Tags {
		if value, ok := instance.Tags[tag.Key]; !ok || value != tag.Value {
			drifts = append(drifts, fmt.Sprintf("Tag drift detected: %s requested=%q, actual=%q", tag.Key, tag.Value, value))
		}
	}

	return drifts
}
