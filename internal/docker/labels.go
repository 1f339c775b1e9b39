package docker

import (
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/filters"
	"github.com/google/uuid"
)

// Label keys used for genegrid resources
const (
	LabelProject       = "genegrid.project"
	LabelInstanceName  = "genegrid.instance.name"
	LabelInstanceRunID = "genegrid.instance.run_id"
	LabelComponent     = "genegrid.component"
	LabelRedisPort     = "genegrid.redis.port"
	LabelStartRow      = "genegrid.worker.start_row"
	LabelBlockSize     = "genegrid.worker.block_size"
)

// Component label values
const (
	ComponentRedis       = "redis"
	ComponentCoordinator = "coordinator"
	ComponentWorker      = "worker"
)

// BuildLabels creates the standard label set for all genegrid resources.
// component may be empty for instance-wide resources such as the network.
func BuildLabels(instanceName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelProject:       "true",
		LabelInstanceName:  instanceName,
		LabelInstanceRunID: runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// WorkerLabels extends BuildLabels with the worker's static block.
func WorkerLabels(instanceName, runID string, startRow, blockSize int) map[string]string {
	labels := BuildLabels(instanceName, runID, ComponentWorker)
	labels[LabelStartRow] = strconv.Itoa(startRow)
	labels[LabelBlockSize] = strconv.Itoa(blockSize)
	return labels
}

// GenerateRunID creates a new UUID for an instance run.
// Each invocation of `genegrid fleet up` gets a unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// ProjectFilter matches every genegrid resource.
func ProjectFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=true", LabelProject)))
}

// InstanceFilter matches the resources of one instance.
func InstanceFilter(instanceName string) filters.Args {
	return filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", LabelInstanceName, instanceName)))
}

// Resource naming conventions for genegrid components

// NetworkName returns the Docker network name for an instance
func NetworkName(instanceName string) string {
	return fmt.Sprintf("genegrid-network-%s", instanceName)
}

// RedisContainerName returns the Redis container name for an instance
func RedisContainerName(instanceName string) string {
	return fmt.Sprintf("genegrid-redis-%s", instanceName)
}

// CoordinatorContainerName returns the coordinator container name for an instance
func CoordinatorContainerName(instanceName string) string {
	return fmt.Sprintf("genegrid-coordinator-%s", instanceName)
}

// WorkerContainerName returns the name of the worker owning the block at startRow
func WorkerContainerName(instanceName string, startRow int) string {
	return fmt.Sprintf("genegrid-worker-%s-%d", instanceName, startRow)
}
