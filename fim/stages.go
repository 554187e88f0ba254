package fim

import (
	"context"
	"errors"
	"fmt"

	"harvester/core"
	"harvester/storage"

	"go.uber.org/zap"
)

// BuildElement serializes the upsert document of the event
type BuildElement struct {
	cluster ClusterInfo
}

// NewBuildElement returns a BuildElement stamping cluster on documents
func NewBuildElement(cluster ClusterInfo) *BuildElement {
	return &BuildElement{cluster: cluster}
}

func (h *BuildElement) Name() string { return "build_element" }

func (h *BuildElement) Handle(ctx context.Context, data *core.FimContext) error {
	doc, err := upsertDocument(data, h.cluster)
	if err != nil {
		return fmt.Errorf("serialize element %s: %w", data.ElementID(), err)
	}
	data.SetSerializedElement(doc)
	return nil
}

// BuildDeletedElement serializes the delete document of the event
type BuildDeletedElement struct{}

func (BuildDeletedElement) Name() string { return "build_deleted_element" }

func (BuildDeletedElement) Handle(ctx context.Context, data *core.FimContext) error {
	doc, err := deleteDocument(data)
	if err != nil {
		return fmt.Errorf("serialize delete %s: %w", data.ElementID(), err)
	}
	data.SetSerializedElement(doc)
	return nil
}

// PublishElement publishes the serialized element to the index of its component
type PublishElement struct {
	registry *storage.Registry
}

// NewPublishElement publishes through registry
func NewPublishElement(registry *storage.Registry) *PublishElement {
	return &PublishElement{registry: registry}
}

func (h *PublishElement) Name() string { return "publish_element" }

func (h *PublishElement) Handle(ctx context.Context, data *core.FimContext) error {
	doc := data.SerializedElement()
	if doc == "" {
		return ErrNoElement
	}
	connector, err := h.registry.Lookup(data.AffectedComponentType())
	if err != nil {
		return err
	}
	return connector.Publish(ctx, doc)
}

// ClearElements deletes every element of the agent from the index of the
// event's component
type ClearElements struct {
	registry *storage.Registry
}

// NewClearElements clears through registry
func NewClearElements(registry *storage.Registry) *ClearElements {
	return &ClearElements{registry: registry}
}

func (h *ClearElements) Name() string { return "clear_elements" }

func (h *ClearElements) Handle(ctx context.Context, data *core.FimContext) error {
	doc, err := deleteByQueryDocument(data.AgentID())
	if err != nil {
		return err
	}
	connector, err := h.registry.Lookup(data.AffectedComponentType())
	if err != nil {
		return err
	}
	return connector.Publish(ctx, doc)
}

// ClearAgent deletes every element of the agent from every index
type ClearAgent struct {
	registry *storage.Registry
}

// NewClearAgent clears every component registered in registry
func NewClearAgent(registry *storage.Registry) *ClearAgent {
	return &ClearAgent{registry: registry}
}

func (h *ClearAgent) Name() string { return "clear_agent" }

func (h *ClearAgent) Handle(ctx context.Context, data *core.FimContext) error {
	doc, err := deleteByQueryDocument(data.AgentID())
	if err != nil {
		return err
	}

	var errs []error
	for _, component := range h.registry.Components() {
		connector, err := h.registry.Lookup(component)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := connector.Publish(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", component, err))
		}
	}
	return errors.Join(errs...)
}

// IndexSync asks the index of the event's component to resynchronize the agent.
// Connectors without a sync capability are left alone.
type IndexSync struct {
	registry *storage.Registry
	logger   *zap.SugaredLogger
}

// NewIndexSync syncs through registry
func NewIndexSync(registry *storage.Registry, logger *zap.SugaredLogger) *IndexSync {
	return &IndexSync{registry: registry, logger: logger}
}

func (h *IndexSync) Name() string { return "index_sync" }

func (h *IndexSync) Handle(ctx context.Context, data *core.FimContext) error {
	connector, err := h.registry.Lookup(data.AffectedComponentType())
	if err != nil {
		return err
	}
	syncer, ok := storage.AsSyncer(connector)
	if !ok {
		h.logger.Debugw("Connector has nothing to sync",
			"agent_id", data.AgentID(),
			"component", data.AffectedComponentType())
		return nil
	}
	return syncer.Sync(ctx, data.AgentID())
}
