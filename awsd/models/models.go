package models

// KeyPair represents a newly created EC2 key pair
type KeyPair struct {
	KeyName     string
	KeyPairID   string
	Fingerprint string
	KeyMaterial string
}

// SecurityGroup represents a security group created for the web server
type SecurityGroup struct {
	GroupId   string
	GroupName string
}

// IngressRule is a single inbound permission on a security group
type IngressRule struct {
	Protocol    string
	FromPort    int32
	ToPort      int32
	CIDR        string
	Description string
}

// Tag is an EC2 resource tag. Session tags use the session id as key and an empty value.
type Tag struct {
	Key   string
	Value string
}

// LaunchSpec describes the single instance to launch
type LaunchSpec struct {
	ImageID          string
	InstanceType     string
	KeyName          string
	SecurityGroupIDs []string
	UserData         string
	Monitoring       bool
	EbsOptimized     bool
	ShutdownBehavior string
	Tags             []Tag
}

// AWSInstance represents the structure of an EC2 instance
type AWSInstance struct {
	InstanceID          string
	InstanceType        string
	State               string
	PrivateIP           string
	PublicIP            string
	PublicDnsName       string
	KeyName             string
	LaunchTime          string
	PrivateDnsName      string
	AMI                 string
	BlockDeviceMappings []BlockDeviceMapping
	SecurityGroups      []SecurityGroup
	NetworkInterfaces   []NetworkInterface
	Tags                map[string]string
}

// BlockDeviceMapping represents a block device mapping in AWS
type BlockDeviceMapping struct {
	DeviceName string
	VolumeId   string
}

// NetworkInterface represents a network interface associated with an instance
type NetworkInterface struct {
	PrivateIpAddress string
	PublicIpAddress  string
}
