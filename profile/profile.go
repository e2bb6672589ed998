// Package profile loads the instance launch profile: image, instance type, launch flags
// and the ingress rules opened on the web server's security group.
package profile

import (
	"fmt"
	"net"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.uber.org/zap"

	"webserverprovisioner/awsd/models"
	"webserverprovisioner/errors"
)

const (
	packageName = "profile"

	DefaultImageID          = "ami-096f43ef67d75e998"
	DefaultInstanceType     = "t2.nano"
	DefaultShutdownBehavior = "terminate"
	anywhere                = "0.0.0.0/0"
)

// Profile is the HCL representation of an instance profile, e.g.
//
//	image_id      = "ami-096f43ef67d75e998"
//	instance_type = "t2.nano"
//
//	ingress "http" {
//	  port = 80
//	}
type Profile struct {
	ImageID          string        `hcl:"image_id,optional"`
	InstanceType     string        `hcl:"instance_type,optional"`
	Monitoring       bool          `hcl:"monitoring,optional"`
	EbsOptimized     bool          `hcl:"ebs_optimized,optional"`
	ShutdownBehavior string        `hcl:"shutdown_behavior,optional"`
	Ingress          []IngressRule `hcl:"ingress,block"`
}

// IngressRule is one inbound rule of the security group
type IngressRule struct {
	Name        string `hcl:"name,label"`
	Port        int    `hcl:"port"`
	Protocol    string `hcl:"protocol,optional"`
	CIDR        string `hcl:"cidr,optional"`
	Description string `hcl:"description,optional"`
}

// Default returns the built-in web server profile: HTTP, HTTPS and SSH open to the world.
func Default() *Profile {
	return &Profile{
		ImageID:          DefaultImageID,
		InstanceType:     DefaultInstanceType,
		ShutdownBehavior: DefaultShutdownBehavior,
		Ingress: []IngressRule{
			{Name: "http", Port: 80, Protocol: "tcp", CIDR: anywhere, Description: "Allow HTTP access for viewing of the webserver"},
			{Name: "https", Port: 443, Protocol: "tcp", CIDR: anywhere, Description: "Allow HTTPs access for viewing of the webserver"},
			{Name: "ssh", Port: 22, Protocol: "tcp", CIDR: anywhere, Description: "Allow SSH access for configuration of the webserver"},
		},
	}
}

// Load returns the default profile when path is empty, otherwise decodes the HCL file at
// path and fills every omitted setting from the default profile.
func Load(path string) (*Profile, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Load"),
	)

	if path == "" {
		logger.Info("Using built-in instance profile",
			zap.String("operation", "profile_load"),
		)
		return Default(), nil
	}

	var p Profile
	if err := hclsimple.DecodeFile(path, nil, &p); err != nil {
		return nil, errors.New(errors.ErrProfile, "error decoding instance profile",
			map[string]interface{}{
				"path": path,
			}, err)
	}
	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, errors.New(errors.ErrProfile, "invalid instance profile",
			map[string]interface{}{
				"path": path,
			}, err)
	}

	logger.Info("Instance profile loaded",
		zap.String("path", path),
		zap.String("image_id", p.ImageID),
		zap.String("instance_type", p.InstanceType),
		zap.Int("ingress_rules", len(p.Ingress)),
		zap.String("operation", "profile_load"),
	)
	return &p, nil
}

func (p *Profile) applyDefaults() {
	def := Default()
	if p.ImageID == "" {
		p.ImageID = def.ImageID
	}
	if p.InstanceType == "" {
		p.InstanceType = def.InstanceType
	}
	if p.ShutdownBehavior == "" {
		p.ShutdownBehavior = def.ShutdownBehavior
	}
	if len(p.Ingress) == 0 {
		p.Ingress = def.Ingress
		return
	}
	for i := range p.Ingress {
		if p.Ingress[i].Protocol == "" {
			p.Ingress[i].Protocol = "tcp"
		}
		if p.Ingress[i].CIDR == "" {
			p.Ingress[i].CIDR = anywhere
		}
	}
}

// Validate checks ports, protocols, CIDR blocks and the shutdown behavior
func (p *Profile) Validate() error {
	switch p.ShutdownBehavior {
	case "stop", "terminate":
	default:
		return fmt.Errorf("shutdown_behavior must be \"stop\" or \"terminate\", got %q", p.ShutdownBehavior)
	}

	for _, rule := range p.Ingress {
		if rule.Port < 0 || rule.Port > 65535 {
			return fmt.Errorf("ingress %q: port %d out of range", rule.Name, rule.Port)
		}
		switch rule.Protocol {
		case "tcp", "udp", "icmp":
		default:
			return fmt.Errorf("ingress %q: unsupported protocol %q", rule.Name, rule.Protocol)
		}
		if _, _, err := net.ParseCIDR(rule.CIDR); err != nil {
			return fmt.Errorf("ingress %q: %w", rule.Name, err)
		}
	}
	return nil
}

// Rules converts the ingress blocks into security group rules
func (p *Profile) Rules() []models.IngressRule {
	rules := make([]models.IngressRule, 0, len(p.Ingress))
	for _, rule := range p.Ingress {
		rules = append(rules, models.IngressRule{
			Protocol:    rule.Protocol,
			FromPort:    int32(rule.Port),
			ToPort:      int32(rule.Port),
			CIDR:        rule.CIDR,
			Description: rule.Description,
		})
	}
	return rules
}
