package eigenoc

import (
	"fmt"

	"github.com/samuelfneumann/eigenoc/utils/op"
	G "gorgonia.org/gorgonia"
)

// Tower input and output names
const (
	inObs          = "obs"
	inActions      = "actions"
	inNextObs      = "next_obs"
	inLatent       = "latent"
	inTargetSF     = "target_sf"
	inOptions      = "options_one_hot"
	inOptionMask   = "option_mask"
	inActionsOne   = "actions_one_hot"
	inReturns      = "returns"
	inEigenReturns = "eigen_returns"
	inAdvantage    = "advantage"
	inTermAdv      = "termination_advantage"

	outLatent      = "fi"
	outRecon       = "reconstruction"
	outSF          = "sf"
	outQ           = "q"
	outEigen       = "eigen_q"
	outTermination = "termination"
	outAuxLoss     = "aux_loss"
	outSFLoss      = "sf_loss"
	outCritic      = "critic_loss"
	outTermLoss    = "termination_loss"
	outEntropy     = "entropy_loss"
	outPolicy      = "policy_loss"
	outEigenCritic = "eigen_critic_loss"
	outOptionLoss  = "option_loss"
)

type towerKind int

const (
	encodeTower towerKind = iota
	auxTower
	headsTower
	sfTower
	optionTower
	criticTower
)

func (k towerKind) String() string {
	switch k {
	case encodeTower:
		return "encode"
	case auxTower:
		return "aux"
	case headsTower:
		return "heads"
	case sfTower:
		return "sf"
	case optionTower:
		return "option"
	case criticTower:
		return "critic"
	}
	return fmt.Sprintf("towerKind(%d)", int(k))
}

type towerKey struct {
	kind  towerKind
	batch int
}

func policyMask(o int) string {
	return fmt.Sprintf("policy_mask_%d", o)
}

func policyOutput(o int) string {
	return fmt.Sprintf("policy_%d", o)
}

// tower returns the tower of the given kind for batch, building and
// caching it on first use
func (n *Network) tower(kind towerKind, batch int) (*tower, error) {
	key := towerKey{kind: kind, batch: batch}
	if t, ok := n.towers[key]; ok {
		return t, nil
	}

	var build func(*tower, int) error
	switch kind {
	case encodeTower:
		build = n.buildEncode
	case auxTower:
		build = n.buildAux
	case headsTower:
		build = n.buildHeads
	case sfTower:
		build = n.buildSF
	case optionTower:
		build = n.buildOption
	case criticTower:
		build = n.buildCritic
	default:
		return nil, fmt.Errorf("tower: unknown tower %v", kind)
	}

	t := newTower()
	if err := build(t, batch); err != nil {
		return nil, fmt.Errorf("tower: %v: %w", kind, err)
	}
	t.compile()
	n.towers[key] = t
	return t, nil
}

// observations adds the observation input of a tower
func (n *Network) observations(t *tower, batch int) *G.Node {
	if n.heads.conv != nil {
		shape := append([]int{batch}, n.cfg.ObservationShape...)
		return t.input(inObs, shape...)
	}
	return t.input(inObs, batch, n.cfg.ObservationSize())
}

// latent adds the detached latent input of a head tower and returns
// its rectification, which every head consumes
func (n *Network) latent(t *tower, batch int) *G.Node {
	fi := t.input(inLatent, batch, n.cfg.LatentDim())
	return G.Must(G.Rectify(fi))
}

// regression returns the mean elementwise regression loss of residual
func (n *Network) regression(residual *G.Node) *G.Node {
	var loss *G.Node
	if n.cfg.Loss == Squared {
		half := op.Scalar(residual, 0.5, "half")
		loss = G.Must(G.HadamardProd(half, G.Must(G.Square(residual))))
	} else {
		loss = op.Huber(residual, n.cfg.HuberDelta)
	}
	return G.Must(G.Mean(loss))
}

func (n *Network) buildEncode(t *tower, batch int) error {
	fi, err := n.heads.encode(t.binding, n.observations(t, batch))
	if err != nil {
		return err
	}
	t.output(outLatent, fi)
	return nil
}

// buildAux builds the only tower whose gradient reaches the encoder
func (n *Network) buildAux(t *tower, batch int) error {
	fi, err := n.heads.encode(t.binding, n.observations(t, batch))
	if err != nil {
		return err
	}
	t.output(outLatent, fi)

	actions := t.input(inActions, batch, n.heads.actionEmbed.Features())
	recon, err := n.heads.reconstruct(t.binding, fi, actions)
	if err != nil {
		return err
	}
	t.output(outRecon, recon)

	next := t.input(inNextObs, batch, n.cfg.ObservationSize())
	residual := G.Must(G.Sub(next, recon))
	coef := op.Scalar(residual, n.cfg.AuxCoef, "aux_coef")
	loss := G.Must(G.HadamardProd(coef, n.regression(residual)))
	t.output(outAuxLoss, loss)

	return t.differentiate(loss, n.local.Parameters(AuxHeads...))
}

func (n *Network) buildHeads(t *tower, batch int) error {
	latent := n.latent(t, batch)

	sf, err := n.heads.sf.Fwd(t.binding, latent)
	if err != nil {
		return err
	}
	t.output(outSF, sf)

	q, err := n.heads.option.Fwd(t.binding, latent)
	if err != nil {
		return err
	}
	t.output(outQ, q)

	eigen, err := n.strategy.values(t.binding, latent)
	if err != nil {
		return err
	}
	if eigen != nil {
		t.output(outEigen, eigen)
	}

	term, err := n.heads.termination.Fwd(t.binding, latent)
	if err != nil {
		return err
	}
	t.output(outTermination, term)

	for o := range n.heads.policies {
		pi, err := n.heads.policy(t.binding, latent, o)
		if err != nil {
			return err
		}
		t.output(policyOutput(o), pi)
	}
	return nil
}

func (n *Network) buildSF(t *tower, batch int) error {
	latent := n.latent(t, batch)
	sf, err := n.heads.sf.Fwd(t.binding, latent)
	if err != nil {
		return err
	}

	target := t.input(inTargetSF, batch, n.cfg.SFDim())
	loss := n.regression(G.Must(G.Sub(target, sf)))
	t.output(outSFLoss, loss)

	return t.differentiate(loss, n.local.Parameters(SFHeads...))
}

// critic adds the critic loss of the option values of the taken
// options, returning the loss and the option values
func (n *Network) critic(t *tower, batch int, latent *G.Node) (*G.Node,
	*G.Node, error) {
	q, err := n.heads.option.Fwd(t.binding, latent)
	if err != nil {
		return nil, nil, err
	}
	options := t.input(inOptions, batch, n.numOptions)
	returns := t.input(inReturns, batch)

	return squaredTD(returns, op.Gather(q, options), n.cfg.CriticCoef), q, nil
}

func (n *Network) buildCritic(t *tower, batch int) error {
	loss, _, err := n.critic(t, batch, n.latent(t, batch))
	if err != nil {
		return err
	}
	t.output(outCritic, loss)

	return t.differentiate(loss, n.local.Parameters(PrimitiveHeads...))
}

func (n *Network) buildOption(t *tower, batch int) error {
	latent := n.latent(t, batch)

	critic, _, err := n.critic(t, batch, latent)
	if err != nil {
		return err
	}
	t.output(outCritic, critic)

	// One-hot over the non-primitive options; all zero for rows whose
	// option is primitive
	mask := t.input(inOptionMask, batch, n.cfg.NbOptions)

	term, err := n.heads.termination.Fwd(t.binding, latent)
	if err != nil {
		return err
	}
	termAdv := t.input(inTermAdv, batch)
	termLoss := G.Must(G.HadamardProd(op.Gather(term, mask), termAdv))
	termLoss = G.Must(G.Mean(termLoss))
	t.output(outTermLoss, termLoss)

	var selected *G.Node
	for o := range n.heads.policies {
		pi, err := n.heads.policy(t.binding, latent, o)
		if err != nil {
			return err
		}
		masked := G.Must(G.HadamardProd(pi,
			t.input(policyMask(o), batch, n.actionSize)))
		if selected == nil {
			selected = masked
		} else {
			selected = G.Must(G.Add(selected, masked))
		}
	}

	entropy := G.Must(G.Mean(op.Entropy(selected)))
	coef := op.Scalar(entropy, n.cfg.FinalRandomActionProb, "entropy_coef")
	entropyLoss := G.Must(G.HadamardProd(coef, entropy))
	t.output(outEntropy, entropyLoss)

	actions := t.input(inActionsOne, batch, n.actionSize)
	advantage := t.input(inAdvantage, batch)
	logResp := op.SafeLog(op.Gather(selected, actions))
	policyLoss := G.Must(G.HadamardProd(logResp, advantage))
	policyLoss = G.Must(G.Neg(G.Must(G.Mean(policyLoss))))
	t.output(outPolicy, policyLoss)

	loss := G.Must(G.Sub(policyLoss, entropyLoss))
	loss = G.Must(G.Add(loss, critic))
	loss = G.Must(G.Add(loss, termLoss))

	eigen, err := n.strategy.values(t.binding, latent)
	if err != nil {
		return err
	}
	if eigen != nil {
		eigenReturns := t.input(inEigenReturns, batch)
		eigenCritic := n.strategy.criticLoss(eigen, mask, eigenReturns)
		t.output(outEigenCritic, eigenCritic)
		loss = G.Must(G.Add(loss, eigenCritic))
	}
	t.output(outOptionLoss, loss)

	return t.differentiate(loss, n.local.Parameters(OptionHeads...))
}
