package topology

import (
	"go.uber.org/zap"
)

const (
	minPort = 1
	maxPort = 65535
)

func checkPort(resource string, port int) error {
	if port < minPort || port > maxPort {
		return invalid(resource, "port", "%d is outside [%d, %d]", port, minPort, maxPort)
	}
	return nil
}

func inferProtocol(port int) Protocol {
	if port == 443 {
		return ProtocolHTTPS
	}
	return ProtocolHTTP
}

// DeclareLoadBalancer declares an application load balancer in a resolved
// network. Public load balancers are placed in public subnets, internal ones
// in private subnets.
func (b *Builder) DeclareLoadBalancer(name string, networkID string, public bool) (*LoadBalancer, error) {
	if err := checkName(KindLoadBalancer, name); err != nil {
		return nil, b.fail(err)
	}
	if _, dup := b.lbByID[name]; dup {
		return nil, b.fail(invalid(string(KindLoadBalancer), "name", "%q is already declared", name))
	}
	network, err := b.network(networkID)
	if err != nil {
		return nil, b.fail(err)
	}
	if public {
		if len(network.SubnetsOf(SubnetPublic)) == 0 {
			return nil, b.fail(notFound(KindNetwork, network.ID, "no public subnets for an internet-facing load balancer"))
		}
	} else if len(network.SubnetsOf(SubnetPrivateWithEgress))+len(network.SubnetsOf(SubnetPrivateIsolated)) == 0 {
		return nil, b.fail(notFound(KindNetwork, network.ID, "no private subnets for an internal load balancer"))
	}

	ref := Ref{Kind: KindLoadBalancer, ID: name}
	if err := b.claim(ref); err != nil {
		return nil, b.fail(err)
	}

	lb := &LoadBalancer{ID: name, Network: network.ID, Public: public}
	b.lbs = append(b.lbs, lb)
	b.lbByID[name] = lb
	b.log.Debug("declared load balancer", zap.String("id", name), zap.Bool("public", public))

	handle := *lb
	b.track(&handle, ref)
	return &handle, nil
}

// AddListener binds a port on the load balancer. A zero protocol is
// inferred from the port: 443 is HTTPS, anything else HTTP.
func (b *Builder) AddListener(handle *LoadBalancer, name string, spec ListenerSpec) (*Listener, error) {
	if handle == nil {
		return nil, b.fail(notFound(KindLoadBalancer, "", "nil load balancer"))
	}
	lbID, ok := b.owned(handle, KindLoadBalancer)
	if !ok {
		return nil, b.fail(notFound(KindLoadBalancer, handle.ID, "not declared by this builder"))
	}
	lb := b.lbByID[lbID]
	if err := checkName(KindListener, name); err != nil {
		return nil, b.fail(err)
	}
	id := lb.ID + "/" + name
	if _, dup := b.listenerByID[id]; dup {
		return nil, b.fail(invalid(string(KindListener), "name", "%q is already declared on %s", name, lb.ID))
	}
	if err := checkPort(id, spec.Port); err != nil {
		return nil, b.fail(err)
	}
	for _, other := range b.listenersOf[lb.ID] {
		if other.Port == spec.Port {
			return nil, b.fail(invalid(id, "port", "%d is already bound by %s", spec.Port, other.ID))
		}
	}

	if spec.Protocol == "" {
		spec.Protocol = inferProtocol(spec.Port)
	}
	switch spec.Protocol {
	case ProtocolHTTP:
		if spec.CertificateARN != "" {
			return nil, b.fail(invalid(id, "certificate", "HTTP listeners do not take a certificate"))
		}
	case ProtocolHTTPS:
		if spec.CertificateARN == "" {
			return nil, b.fail(invalid(id, "certificate", "HTTPS listeners require a certificate ARN"))
		}
	default:
		return nil, b.fail(invalid(id, "protocol", "unsupported protocol %q", spec.Protocol))
	}
	ref := Ref{Kind: KindListener, ID: id}
	if err := b.claim(ref); err != nil {
		return nil, b.fail(err)
	}

	l := &Listener{
		ID:             id,
		LoadBalancer:   lb.ID,
		Port:           spec.Port,
		Protocol:       spec.Protocol,
		CertificateARN: spec.CertificateARN,
	}
	b.listenersOf[lb.ID] = append(b.listenersOf[lb.ID], l)
	b.listenerByID[id] = l
	b.log.Debug("added listener", zap.String("id", id), zap.Int("port", spec.Port))

	out := *l
	b.track(&out, ref)
	return &out, nil
}

// AddTarget routes the listener's traffic to a compute group on the given
// port. A listener has a single default target.
func (b *Builder) AddTarget(handle *Listener, name string, group *ComputeGroup, port int) (*TargetRule, error) {
	if handle == nil {
		return nil, b.fail(notFound(KindListener, "", "nil listener"))
	}
	listenerID, ok := b.owned(handle, KindListener)
	if !ok {
		return nil, b.fail(notFound(KindListener, handle.ID, "not declared by this builder"))
	}
	l := b.listenerByID[listenerID]
	cg, err := b.ownsGroup(group)
	if err != nil {
		return nil, b.fail(err)
	}
	if err := checkName(KindTargetRule, name); err != nil {
		return nil, b.fail(err)
	}
	id := l.ID + "/" + name
	if err := checkPort(id, port); err != nil {
		return nil, b.fail(err)
	}
	if len(l.Targets) > 0 {
		return nil, b.fail(invalid(id, "listener", "%s already routes to %s", l.ID, l.Targets[0].ComputeGroup))
	}
	lb := b.lbByID[l.LoadBalancer]
	if lb.Network != cg.Network {
		return nil, b.fail(invalid(id, "compute group", "%s is in network %s, load balancer %s is in %s", cg.ID, cg.Network, lb.ID, lb.Network))
	}
	if err := b.claim(Ref{Kind: KindTargetRule, ID: id}); err != nil {
		return nil, b.fail(err)
	}

	l.Targets = append(l.Targets, TargetRule{
		ID:              id,
		Listener:        l.ID,
		ComputeGroup:    cg.ID,
		Port:            port,
		Protocol:        inferProtocol(port),
		HealthCheckPath: "/",
	})
	b.log.Debug("added target",
		zap.String("id", id),
		zap.String("compute_group", cg.ID),
		zap.Int("port", port))
	t := l.Targets[len(l.Targets)-1]
	return &t, nil
}

// DNSName refers to the load balancer's DNS name.
func (lb *LoadBalancer) DNSName() Attribute {
	return Attribute{Resource: Ref{Kind: KindLoadBalancer, ID: lb.ID}, Name: AttrDNSName}
}
