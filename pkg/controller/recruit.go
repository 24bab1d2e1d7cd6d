package controller

import (
	"sort"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
	"github.com/dd0wney/cluso-txdb/pkg/logging"
	"github.com/dd0wney/cluso-txdb/pkg/policy"
)

// sortedWorkersLocked returns registry entries in process-id order so
// placement is deterministic for a given worker set and random seed.
func (cc *ClusterController) sortedWorkersLocked() []*workerInfo {
	out := make([]*workerInfo, 0, len(cc.idWorker))
	for _, info := range cc.idWorker {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].interf.ProcessID() < out[j].interf.ProcessID()
	})
	return out
}

func addressExcluded(excluded []string, addr string) bool {
	for _, a := range excluded {
		if a == addr {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// getStorageWorkerLocked picks one worker for storage recruitment
func (cc *ClusterController) getStorageWorkerLocked(req RecruitStorageRequest) (WorkerDetails, error) {
	for _, info := range cc.sortedWorkersLocked() {
		if cc.workerAvailable(info, false) &&
			!contains(req.ExcludeMachines, info.interf.Locality.ZoneID) &&
			!contains(req.ExcludeDCs, info.interf.Locality.DCID) &&
			!addressExcluded(req.ExcludeAddresses, info.interf.Address) &&
			info.processClass.MachineClassFitness(fitness.RoleStorage) <= fitness.UnsetFit {
			return WorkerDetails{Interf: info.interf, ProcessClass: info.processClass}, nil
		}
	}

	if req.CriticalRecruitment {
		bestFit := fitness.NeverAssign
		var best *workerInfo
		for _, info := range cc.sortedWorkersLocked() {
			fit := info.processClass.MachineClassFitness(fitness.RoleStorage)
			if cc.workerAvailable(info, false) &&
				!contains(req.ExcludeMachines, info.interf.Locality.ZoneID) &&
				!contains(req.ExcludeDCs, info.interf.Locality.DCID) &&
				!addressExcluded(req.ExcludeAddresses, info.interf.Address) &&
				fit < bestFit {
				bestFit = fit
				best = info
			}
		}
		if best != nil {
			return WorkerDetails{Interf: best.interf, ProcessClass: best.processClass}, nil
		}
	}

	return WorkerDetails{}, ErrNoMoreServers
}

// getMasterWorkerLocked picks the best-fit candidate for the master role.
// Ties break by reservoir sampling so equally fit candidates are chosen
// uniformly.
func (cc *ClusterController) getMasterWorkerLocked(checkStable bool) (WorkerDetails, error) {
	bestFit := fitness.NeverAssign
	var best *workerInfo
	numEquivalent := 1

	for _, info := range cc.sortedWorkersLocked() {
		if !cc.workerAvailable(info, checkStable) {
			continue
		}
		fit := info.processClass.MachineClassFitness(fitness.RoleMaster)
		if fit < bestFit {
			best = info
			bestFit = fit
			numEquivalent = 1
		} else if fit != fitness.NeverAssign && fit == bestFit {
			numEquivalent++
			if cc.random01() < 1.0/float64(numEquivalent) {
				best = info
			}
		}
	}

	if best == nil {
		return WorkerDetails{}, ErrNoMoreServers
	}
	return WorkerDetails{Interf: best.interf, ProcessClass: best.processClass}, nil
}

// getWorkersForTlogsLocked finds the smallest policy-satisfying tlog set,
// preferring better fitness tiers. idUsed is charged for each chosen
// worker.
func (cc *ClusterController) getWorkersForTlogsLocked(conf DatabaseConfiguration, idUsed map[string]int, checkStable bool) ([]WorkerDetails, error) {
	tlogPolicy := conf.Policy()

	fitnessWorkers := make(map[fitness.Fitness][]WorkerDetails)
	for _, info := range cc.sortedWorkersLocked() {
		fit := info.processClass.MachineClassFitness(fitness.RoleTLog)
		if cc.workerAvailable(info, checkStable) &&
			!conf.IsExcludedServer(info.interf.Address) &&
			fit != fitness.NeverAssign {
			fitnessWorkers[fit] = append(fitnessWorkers[fit], WorkerDetails{Interf: info.interf, ProcessClass: info.processClass})
		}
	}

	logServerSet := policy.NewLocalitySet()
	var candidates []WorkerDetails

	for fit := fitness.BestFit; fit != fitness.NeverAssign; fit++ {
		for _, worker := range fitnessWorkers[fit] {
			logServerSet.Add(worker.Interf.Locality)
			candidates = append(candidates, worker)
		}

		if logServerSet.Size() < conf.TLogReplicationFactor {
			continue
		}

		if logServerSet.Size() <= conf.GetDesiredLogs() {
			if logServerSet.Validate(tlogPolicy) {
				results := append([]WorkerDetails(nil), candidates...)
				for _, r := range results {
					idUsed[r.Interf.ProcessID()]++
				}
				return results, nil
			}
			continue
		}

		// More candidates than desired: search for the best subset
		cc.rngMu.Lock()
		chosen, ok := policy.FindBestPolicySet(logServerSet, tlogPolicy,
			conf.GetDesiredLogs(), cc.cfg.PolicyRatingTests, cc.cfg.PolicyGenerations, cc.rng)
		cc.rngMu.Unlock()
		if ok {
			results := make([]WorkerDetails, 0, len(chosen))
			for _, idx := range chosen {
				results = append(results, candidates[idx])
			}
			for _, r := range results {
				idUsed[r.Interf.ProcessID()]++
			}
			return results, nil
		}
	}

	cc.logger.Warn("no tlog team satisfies the policy",
		logging.String("policy", tlogPolicy.Info()),
		logging.Int("processes", logServerSet.Size()),
		logging.Int("replication_factor", conf.TLogReplicationFactor),
		logging.Int("desired_logs", conf.GetDesiredLogs()))
	return nil, ErrNoMoreServers
}

// workerFitnessInfo carries the sort key the chosen worker won with
type workerFitnessInfo struct {
	worker  WorkerDetails
	fitness fitness.Fitness
	used    int
}

type fitnessUsedKey struct {
	fitness fitness.Fitness
	used    int
}

// groupedPick shuffles the lexicographically smallest (fitness, used)
// group and returns its first element
func (cc *ClusterController) groupedPick(groups map[fitnessUsedKey][]WorkerDetails) (workerFitnessInfo, bool) {
	keys := make([]fitnessUsedKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].fitness != keys[j].fitness {
			return keys[i].fitness < keys[j].fitness
		}
		return keys[i].used < keys[j].used
	})

	for _, k := range keys {
		w := groups[k]
		if len(w) == 0 {
			continue
		}
		cc.shuffle(len(w), func(i, j int) { w[i], w[j] = w[j], w[i] })
		return workerFitnessInfo{worker: w[0], fitness: k.fitness, used: k.used}, true
	}
	return workerFitnessInfo{}, false
}

// getWorkerForRoleInDatacenterLocked picks one worker for a role,
// preferring the given datacenter but falling back to any other
func (cc *ClusterController) getWorkerForRoleInDatacenterLocked(dcID string, role fitness.ClusterRole, conf DatabaseConfiguration, idUsed map[string]int, checkStable bool) (workerFitnessInfo, error) {
	for _, inDC := range []bool{true, false} {
		groups := make(map[fitnessUsedKey][]WorkerDetails)
		for _, info := range cc.sortedWorkersLocked() {
			fit := info.processClass.MachineClassFitness(role)
			if cc.workerAvailable(info, checkStable) &&
				!conf.IsExcludedServer(info.interf.Address) &&
				fit != fitness.NeverAssign &&
				(info.interf.Locality.DCID == dcID) == inDC {
				key := fitnessUsedKey{fitness: fit, used: idUsed[info.interf.ProcessID()]}
				groups[key] = append(groups[key], WorkerDetails{Interf: info.interf, ProcessClass: info.processClass})
			}
		}
		if pick, ok := cc.groupedPick(groups); ok {
			idUsed[pick.worker.Interf.ProcessID()]++
			return pick, nil
		}
	}
	return workerFitnessInfo{}, ErrNoMoreServers
}

// getWorkersForRoleInDatacenterLocked returns up to amount additional
// workers for a role, restricted to candidates at least as preferred as
// minWorker and excluding minWorker itself
func (cc *ClusterController) getWorkersForRoleInDatacenterLocked(dcID string, role fitness.ClusterRole, amount int, conf DatabaseConfiguration, idUsed map[string]int, minWorker workerFitnessInfo, checkStable bool) []WorkerDetails {
	var results []WorkerDetails
	if amount <= 0 {
		return results
	}

	groups := make(map[fitnessUsedKey][]WorkerDetails)
	for _, info := range cc.sortedWorkersLocked() {
		fit := info.processClass.MachineClassFitness(role)
		used := idUsed[info.interf.ProcessID()]
		if cc.workerAvailable(info, checkStable) &&
			!conf.IsExcludedServer(info.interf.Address) &&
			info.interf.ID != minWorker.worker.Interf.ID &&
			(fit < minWorker.fitness || (fit == minWorker.fitness && used <= minWorker.used)) &&
			info.interf.Locality.DCID == dcID {
			key := fitnessUsedKey{fitness: fit, used: used}
			groups[key] = append(groups[key], WorkerDetails{Interf: info.interf, ProcessClass: info.processClass})
		}
	}

	keys := make([]fitnessUsedKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].fitness != keys[j].fitness {
			return keys[i].fitness < keys[j].fitness
		}
		return keys[i].used < keys[j].used
	})

	for _, k := range keys {
		w := groups[k]
		cc.shuffle(len(w), func(i, j int) { w[i], w[j] = w[j], w[i] })
		for _, worker := range w {
			results = append(results, worker)
			idUsed[worker.Interf.ProcessID()]++
			if len(results) == amount {
				return results
			}
		}
	}
	return results
}

// getDatacentersLocked returns the datacenters of all usable workers
func (cc *ClusterController) getDatacentersLocked(conf DatabaseConfiguration, checkStable bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, info := range cc.sortedWorkersLocked() {
		if cc.workerAvailable(info, checkStable) && !conf.IsExcludedServer(info.interf.Address) {
			dc := info.interf.Locality.DCID
			if !seen[dc] {
				seen[dc] = true
				out = append(out, dc)
			}
		}
	}
	return out
}

// dcPlacement is one datacenter's proxy/resolver candidate placement
type dcPlacement struct {
	proxies   []WorkerDetails
	resolvers []WorkerDetails
}

func classesOf(workers []WorkerDetails) []fitness.ProcessClass {
	out := make([]fitness.ProcessClass, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.ProcessClass)
	}
	return out
}

func interfacesOf(workers []WorkerDetails) []WorkerInterface {
	out := make([]WorkerInterface, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Interf)
	}
	return out
}

// findWorkersForConfigurationLocked selects the full role placement. A
// slot is reserved for the master so proxies and resolvers spread away
// from it. During the startup grace window a placement below the expected
// fitness fails with ErrOperationFailed so latent better workers get time
// to register.
func (cc *ClusterController) findWorkersForConfigurationLocked(req RecruitFromConfigurationRequest) (RecruitFromConfigurationReply, error) {
	started := cc.clock()
	idUsed := make(map[string]int)
	idUsed[cc.masterProcessID]++

	tlogs, err := cc.getWorkersForTlogsLocked(req.Configuration, idUsed, false)
	if err != nil {
		cc.metrics.RecordRecruitment("tlog", "no_more_servers", cc.clock().Sub(started))
		return RecruitFromConfigurationReply{}, err
	}

	datacenters := cc.getDatacentersLocked(req.Configuration, false)

	bestFitness := fitness.WorstInDatacenterFitness()
	var best dcPlacement
	numEquivalent := 1
	found := false

	for _, dcID := range datacenters {
		used := make(map[string]int, len(idUsed))
		for k, v := range idUsed {
			used[k] = v
		}

		firstResolver, err := cc.getWorkerForRoleInDatacenterLocked(dcID, fitness.RoleResolver, req.Configuration, used, false)
		if err != nil {
			continue
		}
		firstProxy, err := cc.getWorkerForRoleInDatacenterLocked(dcID, fitness.RoleProxy, req.Configuration, used, false)
		if err != nil {
			continue
		}

		proxies := cc.getWorkersForRoleInDatacenterLocked(dcID, fitness.RoleProxy,
			req.Configuration.GetDesiredProxies()-1, req.Configuration, used, firstProxy, false)
		resolvers := cc.getWorkersForRoleInDatacenterLocked(dcID, fitness.RoleResolver,
			req.Configuration.GetDesiredResolvers()-1, req.Configuration, used, firstResolver, false)

		proxies = append(proxies, firstProxy.worker)
		resolvers = append(resolvers, firstResolver.worker)

		fit := fitness.NewInDatacenterFitness(classesOf(proxies), classesOf(resolvers))
		if fit.Better(bestFitness) {
			bestFitness = fit
			numEquivalent = 1
			best = dcPlacement{proxies: proxies, resolvers: resolvers}
			found = true
		} else if fit.Equal(bestFitness) {
			numEquivalent++
			if cc.random01() < 1.0/float64(numEquivalent) {
				best = dcPlacement{proxies: proxies, resolvers: resolvers}
			}
		}
	}

	if !found {
		cc.metrics.RecordRecruitment("proxy_resolver", "no_more_servers", cc.clock().Sub(started))
		return RecruitFromConfigurationReply{}, ErrNoMoreServers
	}

	if cc.clock().Sub(cc.startTime) < cc.cfg.WaitForGoodRecruitmentDelay {
		expectedAcross := fitness.AcrossDatacenterFitness{
			TLogFit:   cc.cfg.ExpectedTLogFitness,
			TLogCount: req.Configuration.GetDesiredLogs(),
		}
		expectedIn := fitness.InDatacenterFitness{
			ProxyFit:      cc.cfg.ExpectedProxyFitness,
			ResolverFit:   cc.cfg.ExpectedResolverFitness,
			ProxyCount:    req.Configuration.GetDesiredProxies(),
			ResolverCount: req.Configuration.GetDesiredResolvers(),
		}
		actualAcross := fitness.NewAcrossDatacenterFitness(classesOf(tlogs))
		if expectedAcross.Better(actualAcross) || expectedIn.Better(bestFitness) {
			cc.metrics.RecordRecruitment("configuration", "not_good_enough", cc.clock().Sub(started))
			return RecruitFromConfigurationReply{}, ErrOperationFailed
		}
	}

	cc.logger.Info("workers found for configuration",
		logging.Int("replication_factor", req.Configuration.TLogReplicationFactor),
		logging.Int("desired_logs", req.Configuration.GetDesiredLogs()),
		logging.Int("actual_logs", len(tlogs)),
		logging.Int("actual_proxies", len(best.proxies)),
		logging.Int("actual_resolvers", len(best.resolvers)))
	cc.metrics.RecordRecruitment("configuration", "ok", cc.clock().Sub(started))

	return RecruitFromConfigurationReply{
		TLogs:     interfacesOf(tlogs),
		Proxies:   interfacesOf(best.proxies),
		Resolvers: interfacesOf(best.resolvers),
	}, nil
}
