// Copyright 2026 The ufork Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

// Switch makes environment id the current environment and marks it running.
// The previously running environment, if any, becomes runnable.
func (k *Kernel) Switch(id EnvID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envid2envLocked(id, false)
	if err != nil {
		return err
	}
	k.switchLocked(e)
	return nil
}

// Preconditions: k.mu is locked.
func (k *Kernel) switchLocked(e *Env) {
	if k.cur != nil && k.cur != e && k.cur.status == EnvRunning {
		k.cur.status = EnvRunnable
	}
	k.cur = e
	e.status = EnvRunning
	e.runs++
	k.last = e.id.Index()
}

// Schedule picks the next environment to run in round robin order, starting
// after the one that ran last, and switches to it. The current environment
// is chosen again only if nothing else is runnable and it is still running.
// ok is false if there is nothing to run.
func (k *Kernel) Schedule() (id EnvID, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := 1; i <= NEnv; i++ {
		e := &k.envs[(k.last+i)%NEnv]
		if e.status == EnvRunnable {
			k.switchLocked(e)
			return e.id, true
		}
	}
	if k.cur != nil && k.cur.status == EnvRunning {
		k.cur.runs++
		return k.cur.id, true
	}
	return 0, false
}
